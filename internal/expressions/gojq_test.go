package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())
}

func TestGoJQ_Compile(t *testing.T) {
	e := NewGoJQEngine()

	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{"identity", ".", false},
		{"field", ".name", false},
		{"reshape", "{id: .id, total: (.items | length)}", false},
		{"select", "[.items[] | select(.ok)]", false},
		{"parse error", ".items[", true},
		{"unknown function", "nosuchfn(1)", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Compile(tt.expression)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestGoJQ_Cache(t *testing.T) {
	e := NewGoJQEngine()
	require.NoError(t, e.Compile(".a"))
	require.NoError(t, e.Compile(".a"))
	require.NoError(t, e.Compile(".b"))
	assert.Len(t, e.cache, 2)
}
