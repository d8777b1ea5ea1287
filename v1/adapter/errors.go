package adapter

import (
	"context"
	stdErrors "errors"

	redis "github.com/redis/go-redis/v9"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
)

// checkContext rejects calls made with an already finished context.
func checkContext(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return verrouerrors.ErrTimeout
	}
	return err
}

// storageError wraps a backend failure for op, normalising timeouts and
// closed connections.
func storageError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		err = verrouerrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		err = verrouerrors.ErrConnectionClosed
	}
	return verrouerrors.Storage(op, err)
}
