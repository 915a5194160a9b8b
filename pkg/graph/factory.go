package graph

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/pkg/flow"
	"github.com/rendis/stepflow/pkg/schema"
)

// cronParser accepts standard 5-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Factory builds graph nodes for flow programs. It is safe for concurrent
// use, so it can back flow.WithConcurrentBranches.
//
// A Factory remembers every id it has built and refuses to build one twice:
// use a new Factory per graph.
type Factory struct {
	engines  *expressions.Engines
	defaults *schema.InvokeDefaults
	logger   *slog.Logger

	mu  sync.Mutex
	ids map[string]bool
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithEngines enables compile checks for choice conditions and pass
// transforms.
func WithEngines(engines *expressions.Engines) FactoryOption {
	return func(f *Factory) { f.engines = engines }
}

// WithInvokeDefaults sets the properties merged under every invoke step.
func WithInvokeDefaults(d *schema.InvokeDefaults) FactoryOption {
	return func(f *Factory) { f.defaults = d }
}

// WithFactoryLogger logs every constructed node at debug level.
func WithFactoryLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFactory returns a Factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		logger: slog.New(slog.DiscardHandler),
		ids:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewNode implements flow.NodeFactory.
func (f *Factory) NewNode(ctx context.Context, spec flow.NodeSpec) (flow.Node, error) {
	if err := f.claim(spec.ID); err != nil {
		return nil, err
	}

	node, err := f.build(spec)
	if err != nil {
		return nil, err
	}

	logging.LogWith(ctx, f.logger).DebugContext(ctx, "node constructed",
		slog.String("kind", string(node.(stateful).state().kind)))
	return node, nil
}

func (f *Factory) claim(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ids[id] {
		return constructionError(id, "state already constructed by this factory")
	}
	f.ids[id] = true
	return nil
}

func (f *Factory) build(spec flow.NodeSpec) (flow.Node, error) {
	switch spec.Kind {
	case flow.KindDecision:
		props, err := propsAs[ChoiceProps](spec)
		if err != nil {
			return nil, err
		}
		if err := f.checkConditions(spec); err != nil {
			return nil, err
		}
		return NewChoice(spec.ID, props), nil

	case flow.KindMap:
		props, err := propsAs[MapProps](spec)
		if err != nil {
			return nil, err
		}
		if props.MaxConcurrency < 0 {
			return nil, constructionError(spec.ID, "max concurrency must be >= 0")
		}
		return NewMap(spec.ID, props), nil

	case flow.KindParallel:
		props, err := propsAs[ParallelProps](spec)
		if err != nil {
			return nil, err
		}
		return NewParallel(spec.ID, props), nil

	case flow.KindPass:
		props, err := f.passProps(spec)
		if err != nil {
			return nil, err
		}
		return NewPass(spec.ID, props), nil

	case flow.KindWait:
		props, err := waitProps(spec)
		if err != nil {
			return nil, err
		}
		return NewWait(spec.ID, props), nil

	case flow.KindSucceed:
		props, err := propsAs[SucceedProps](spec)
		if err != nil {
			return nil, err
		}
		return NewSucceed(spec.ID, props), nil

	case flow.KindFail:
		props, err := propsAs[FailProps](spec)
		if err != nil {
			return nil, err
		}
		return NewFail(spec.ID, props), nil

	case flow.KindInvoke:
		return f.invoke(spec)

	default:
		return nil, constructionError(spec.ID, fmt.Sprintf("factory cannot build %s steps", spec.Kind))
	}
}

// checkConditions requires every choice predicate to be a Condition (or a
// bare expression string) and compiles it when engines are configured.
func (f *Factory) checkConditions(spec flow.NodeSpec) error {
	for i, c := range spec.Conditions {
		cond, ok := asCondition(c)
		if !ok {
			return constructionError(spec.ID, fmt.Sprintf("choice %d: condition must be a graph.Condition, got %T", i, c))
		}
		if f.engines == nil {
			continue
		}
		e, err := f.engines.Get(cond.Lang)
		if err != nil {
			return constructionError(spec.ID, fmt.Sprintf("choice %d: %v", i, err)).WithCause(err)
		}
		if err := e.Compile(cond.Expression); err != nil {
			return constructionError(spec.ID, fmt.Sprintf("choice %d: invalid condition", i)).WithCause(err)
		}
	}
	return nil
}

func (f *Factory) passProps(spec flow.NodeSpec) (PassProps, error) {
	props, err := propsAs[PassProps](spec)
	if err != nil {
		return props, err
	}
	if props.Transform == "" {
		return props, nil
	}
	if props.Result != nil {
		return props, constructionError(spec.ID, "result and transform are mutually exclusive")
	}
	if f.engines == nil {
		return props, nil
	}
	jq, err := f.engines.Get("jq")
	if err != nil {
		return props, constructionError(spec.ID, err.Error()).WithCause(err)
	}
	if err := jq.Compile(props.Transform); err != nil {
		return props, constructionError(spec.ID, "invalid transform").WithCause(err)
	}
	return props, nil
}

func waitProps(spec flow.NodeSpec) (WaitProps, error) {
	props, err := propsAs[WaitProps](spec)
	if err != nil {
		return props, err
	}

	set := 0
	if props.Seconds != 0 {
		set++
		if props.Seconds < 0 {
			return props, constructionError(spec.ID, "wait seconds must be positive")
		}
	}
	if props.Timestamp != "" {
		set++
		if _, err := time.Parse(time.RFC3339, props.Timestamp); err != nil {
			return props, constructionError(spec.ID, "invalid wait timestamp").WithCause(err)
		}
	}
	if props.Schedule != "" {
		set++
		if _, err := cronParser.Parse(props.Schedule); err != nil {
			return props, constructionError(spec.ID, "invalid wait schedule").WithCause(err)
		}
	}
	if set != 1 {
		return props, constructionError(spec.ID, "exactly one of seconds, timestamp or schedule is required")
	}
	return props, nil
}

// invoke merges the step's props over the factory defaults, turns
// Parameters into the payload and normalizes the retry policy.
func (f *Factory) invoke(spec flow.NodeSpec) (flow.Node, error) {
	props, err := propsAs[InvokeProps](spec)
	if err != nil {
		return nil, err
	}
	if props.Function == "" {
		return nil, constructionError(spec.ID, "function is required for invoke steps")
	}

	if f.defaults != nil {
		if len(f.defaults.Payload) > 0 {
			merged := make(map[string]any, len(f.defaults.Payload)+len(props.Payload))
			maps.Copy(merged, f.defaults.Payload)
			maps.Copy(merged, props.Payload)
			props.Payload = merged
		}
		if props.Timeout == "" {
			props.Timeout = f.defaults.Timeout
		}
	}
	if props.Parameters != nil {
		if props.Payload != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConstruction,
				"payload and parameters specified for step: %s", spec.ID).WithStep(spec.ID)
		}
		props.Payload = props.Parameters
		props.Parameters = nil
	}
	if props.Timeout != "" {
		if _, err := time.ParseDuration(props.Timeout); err != nil {
			return nil, constructionError(spec.ID, "invalid invoke timeout").WithCause(err)
		}
	}

	retry, err := NewRetrier(spec.Retry)
	if err != nil {
		return nil, constructionError(spec.ID, err.Error()).WithCause(err)
	}

	return NewInvoke(spec.ID, props, retry), nil
}

// propsAs accepts nil, T or *T as a step's props.
func propsAs[T any](spec flow.NodeSpec) (T, error) {
	var zero T
	switch p := spec.Props.(type) {
	case nil:
		return zero, nil
	case T:
		return p, nil
	case *T:
		if p == nil {
			return zero, nil
		}
		return *p, nil
	}
	return zero, constructionError(spec.ID,
		fmt.Sprintf("unexpected props %T for %s step", spec.Props, spec.Kind))
}

func constructionError(id, msg string) *schema.FlowError {
	return schema.NewError(schema.ErrCodeConstruction, msg).WithStep(id)
}

var _ flow.NodeFactory = (*Factory)(nil)
