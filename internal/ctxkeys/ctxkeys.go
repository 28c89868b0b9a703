// Package ctxkeys carries run identity through context during forest
// execution, so hooks and process funcs can recover which execution, run,
// and process they belong to without threading extra parameters.
package ctxkeys

import "context"

// contextKey is the private key type for values this package stores.
type contextKey string

const (
	executionIDKey contextKey = "execution_id"
	runIDKey       contextKey = "run_id"
	processKey     contextKey = "process"
)

// WithExecutionID tags ctx with the tree execution id.
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// ExecutionID returns the tree execution id, if set.
func ExecutionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(executionIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRunID tags ctx with the catalogue run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID returns the catalogue run id, if set.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithProcess tags ctx with the process name being run.
func WithProcess(ctx context.Context, process string) context.Context {
	return context.WithValue(ctx, processKey, process)
}

// Process returns the process name, if set.
func Process(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(processKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
