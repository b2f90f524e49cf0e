package cache

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/wudi/tagcache/internal/errors"
)

func TestCheckAcks(t *testing.T) {
	ctx := context.Background()

	okStatus := redis.NewStatusCmd(ctx, "set", "k", "v")
	okStatus.SetVal("OK")
	okInt := redis.NewIntCmd(ctx, "sadd", "s", "m")
	okInt.SetVal(0)
	okBool := redis.NewBoolCmd(ctx, "pexpire", "k", 1000)
	okBool.SetVal(true)

	if err := checkAcks(OpSet, []redis.Cmder{okStatus, okInt, okBool}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	badStatus := redis.NewStatusCmd(ctx, "set", "k", "v")
	badStatus.SetVal("QUEUED")
	negative := redis.NewIntCmd(ctx, "del", "k")
	negative.SetVal(-1)
	falseBool := redis.NewBoolCmd(ctx, "pexpire", "k", 1000)
	falseBool.SetVal(false)
	failed := redis.NewIntCmd(ctx, "sadd", "s", "m")
	failed.SetErr(stderrors.New("WRONGTYPE"))

	tests := []struct {
		name string
		cmd  redis.Cmder
	}{
		{"non-OK status", badStatus},
		{"negative integer", negative},
		{"false boolean", falseBool},
		{"command error", failed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkAcks(OpSet, []redis.Cmder{okStatus, tt.cmd, okInt})
			if !stderrors.Is(err, errors.ErrCommand) {
				t.Fatalf("expected command error, got %v", err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if err := classify(OpGet, context.DeadlineExceeded); !stderrors.Is(err, errors.ErrBackend) {
		t.Errorf("timeout should be a backend error, got %v", err)
	}
	if err := classify(OpGet, redis.Nil); !stderrors.Is(err, errors.ErrCommand) {
		t.Errorf("server reply should be a command error, got %v", err)
	}
}
