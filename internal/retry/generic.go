package retry

import "context"

// DoTyped is a type-safe generic wrapper around Retryer.DoWithResult.
//
//	data, err := retry.DoTyped(r, ctx, func() ([]byte, error) {
//	    return download(ctx, taskID)
//	})
func DoTyped[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
