package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// DefinitionRecord is one registered version of a program definition.
type DefinitionRecord struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Version     string                   `json:"version"`
	Description string                   `json:"description,omitempty"`
	Definition  schema.ProgramDefinition `json:"definition"`
	CreatedAt   time.Time                `json:"created_at"`
}

// DefinitionFilter specifies criteria for listing definitions.
type DefinitionFilter struct {
	Name       string `json:"name,omitempty"`
	LatestOnly bool   `json:"latest_only,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// Registry event types.
const (
	EventDefined = "defined"
	EventDeleted = "deleted"
)

// Event is an append-only registry history entry. Sequence is contiguous
// per definition name, starting at 1.
type Event struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Version   string          `json:"version,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// LatestVersion selects the newest version in GetDefinition.
const LatestVersion = "latest"

// FormatVersion renders a version number as "v<n>".
func FormatVersion(n int) string {
	return "v" + strconv.Itoa(n)
}

// ParseVersion parses "v<n>" (or a bare "<n>") into n.
func ParseVersion(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "v"))
	if err != nil || n < 1 {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid version %q", s)
	}
	return n, nil
}

func versionKey(name, version string) string {
	return fmt.Sprintf("%s@%s", name, version)
}
