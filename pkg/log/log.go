package log

import (
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("log",
	fx.Provide(NewLogger),
)

// NewLogger builds the process-wide zap logger. Production config unless
// ENVIRONMENT says otherwise.
func NewLogger() (*zap.Logger, error) {
	env := os.Getenv("ENVIRONMENT")
	if env == "" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
