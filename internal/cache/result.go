package cache

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wudi/tagcache/internal/errors"
)

// classify turns an error from the Redis client into a CacheError. Errors
// replied by the server are command failures; everything else (dial, I/O,
// timeouts, cancellation) is a backend failure.
func classify(op string, err error) error {
	var rerr redis.Error
	if stderrors.As(err, &rerr) {
		return errors.Command(op, "", err)
	}
	return errors.Backend(op, err)
}

// execPipeline runs pipe. A transport failure fails the whole batch as a
// backend error. A command the server rejected is not reported here: the
// rest of the batch still ran, and callers inspect each command.
func execPipeline(ctx context.Context, op string, pipe redis.Pipeliner) ([]redis.Cmder, error) {
	cmds, err := pipe.Exec(ctx)
	if err == nil {
		return cmds, nil
	}
	var rerr redis.Error
	if stderrors.As(err, &rerr) && ctx.Err() == nil {
		return cmds, nil
	}
	return cmds, errors.Backend(op, err)
}

// checkAcks verifies every command in a write pipeline succeeded with the
// expected acknowledgement: "OK" for status replies, non-negative counts
// for integer replies and true for boolean replies. Any deviation fails the
// whole batch, since a partially applied write leaves the indexes skewed.
func checkAcks(op string, cmds []redis.Cmder) error {
	for _, cmd := range cmds {
		if err := cmd.Err(); err != nil {
			return errors.Command(op, cmd.Name(), err)
		}
		switch c := cmd.(type) {
		case *redis.StatusCmd:
			if c.Val() != "OK" {
				return errors.Command(op, fmt.Sprintf("%s replied %q", c.Name(), c.Val()), nil)
			}
		case *redis.IntCmd:
			if c.Val() < 0 {
				return errors.Command(op, fmt.Sprintf("%s replied %d", c.Name(), c.Val()), nil)
			}
		case *redis.BoolCmd:
			if !c.Val() {
				return errors.Command(op, fmt.Sprintf("%s replied false", c.Name()), nil)
			}
		}
	}
	return nil
}
