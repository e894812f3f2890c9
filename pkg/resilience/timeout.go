package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/errors"
)

// WithTimeout runs fn under a deadline of limit. When the deadline, and not
// the caller, ends the call, the error matches both apperrors.ErrTimeout and
// context.DeadlineExceeded. A non-positive limit runs fn under ctx as is.
func WithTimeout(ctx context.Context, limit time.Duration, op string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	err := fn(tctx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s after %v: %w: %w", op, limit, apperrors.ErrTimeout, context.DeadlineExceeded)
	}
	return err
}
