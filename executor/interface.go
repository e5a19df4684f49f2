package executor

import "context"

// Runner executes blocking work on behalf of a caller.
// This interface allows for mock implementations in tests.
type Runner interface {
	// Do runs fn and waits for it to finish. ctx bounds only the wait for a free
	// worker; once fn has started it runs to completion.
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Call runs fn on r and returns its value.
func Call[T any](ctx context.Context, r Runner, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}
