package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogTracker stands in for the external error-tracking service: every
// captured exception goes to the structured log with its tags. Swap in
// a real tracker by satisfying the worker pool's ErrorTracker.
type LogTracker struct {
	logger *zap.Logger
}

func NewLogTracker(logger *zap.Logger) *LogTracker {
	return &LogTracker{logger: logger.Named("tracker")}
}

func (t *LogTracker) CaptureException(ctx context.Context, err error, tags map[string]string) {
	fields := make([]zap.Field, 0, len(tags)+1)
	fields = append(fields, zap.Error(err))
	for k, v := range tags {
		fields = append(fields, zap.String(k, v))
	}
	t.logger.Error("exception_captured", fields...)
}
