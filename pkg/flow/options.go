package flow

import "log/slog"

// BuildOption configures a Build call. Options are inherited by the builds
// of map iterators and parallel branches.
type BuildOption func(*buildOptions)

type buildOptions struct {
	logger      *slog.Logger
	branchLimit int
}

func newBuildOptions(opts []BuildOption) *buildOptions {
	o := &buildOptions{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger logs validation outcomes and materialized steps at debug level.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConcurrentBranches builds the branches of each parallel step on up to
// limit goroutines. Branches are still attached in declaration order. The
// factory must be safe for concurrent use. limit <= 0 builds sequentially.
func WithConcurrentBranches(limit int) BuildOption {
	return func(o *buildOptions) {
		o.branchLimit = limit
	}
}
