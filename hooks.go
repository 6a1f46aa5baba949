package tether

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/outofforest/logger"
)

// Hook wraps execution of inbound and local calls.
type Hook func(ctx context.Context, call *CallContext, next func(ctx context.Context) (any, error)) (any, error)

// LoggingHook logs executed calls.
func LoggingHook(ctx context.Context, call *CallContext, next func(ctx context.Context) (any, error)) (any, error) {
	log := logger.Get(ctx).With(
		zap.String("service", call.Service),
		zap.String("method", call.Method),
		zap.Uint64("callID", call.ID),
	)

	start := time.Now()
	result, err := next(ctx)
	if err != nil {
		log.Debug("Call failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
	} else {
		log.Debug("Call completed", zap.Duration("duration", time.Since(start)))
	}
	return result, err
}

func runHooks(
	ctx context.Context,
	hooks []Hook,
	call *CallContext,
	fn func(ctx context.Context) (any, error),
) (any, error) {
	next := fn
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		inner := next
		next = func(ctx context.Context) (any, error) {
			return hook(ctx, call, inner)
		}
	}
	return next(ctx)
}
