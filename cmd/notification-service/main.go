// Command notification-service emails customers about confirmed orders and
// payments.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/order-pipeline/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadNotificationConfig()
		if err != nil {
			return err
		}
		return appkg.RunNotificationService(ctx, lg, m, cfg)
	})
}
