package jobqueue

import (
	"context"
	"time"
)

// normalizeContext substitutes context.Background for nil and rejects a context that is already done.
func normalizeContext(ctx context.Context) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ctx, nil
}

// detachedContext bounds work that must not depend on the caller's context,
// such as journal writes issued from completion watchers.
func detachedContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
