package stripe

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// leveledLogger routes the Stripe SDK's request logs into the service logger.
// Debug output is dropped.
type leveledLogger struct {
	logg *logger.Logger
}

func (l leveledLogger) Debugf(string, ...interface{}) {}

func (l leveledLogger) Infof(format string, v ...interface{}) {
	l.logg.Info(l.ctx(), fmt.Sprintf(format, v...))
}

func (l leveledLogger) Warnf(format string, v ...interface{}) {
	l.logg.Warn(l.ctx(), fmt.Sprintf(format, v...))
}

func (l leveledLogger) Errorf(format string, v ...interface{}) {
	l.logg.Error(l.ctx(), "stripe sdk error", fmt.Errorf(format, v...))
}

func (l leveledLogger) ctx() context.Context {
	return l.logg.WithField(context.Background(), "component", "stripe-sdk")
}
