// Command order-service accepts orders over HTTP and runs the order saga.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/order-pipeline/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadOrderConfig()
		if err != nil {
			return err
		}
		return appkg.RunOrderService(ctx, lg, m, cfg)
	})
}
