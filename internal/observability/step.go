package observability

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Step runs fn as a named pipeline step. It logs the start, then either the
// success or the failure together with the elapsed time, and returns fn's
// error unchanged.
func Step(ctx context.Context, logger *zap.Logger, name string, fn func(context.Context) error) error {
	logger.Info(">> "+name, zap.String("step", name))
	start := time.Now()

	err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Warn("step failed",
			zap.String("step", name),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return err
	}

	logger.Info("step done", zap.String("step", name), zap.Duration("duration", elapsed))
	return nil
}
