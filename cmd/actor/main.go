// The actor process serves simulation episodes to a learner. It is
// deliberately thin: configuration, logging, signal handling and the
// rollout worker, nothing else.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"maro/internal/service"
	"maro/pkg/config"
	"maro/pkg/logger"
	// Scenario packages register their environments on import, e.g.
	//   _ "example.com/maro-scenarios/cim"
)

func main() {
	if err := config.Init(); err != nil {
		logger.FatalCtx(nil, "Configuration initialization failed: %v", err)
	}
	cfg := config.GlobalConfig

	if err := logger.Init(); err != nil {
		logger.FatalCtx(nil, "Logging initialization failed: %v", err)
	}
	defer logger.Sync()

	// Fleet pods receive their group and Redis endpoint from the
	// provisioner; both take precedence over the baked-in config file.
	group := os.Getenv("MARO_GROUP")
	if addr := os.Getenv("MARO_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		logger.InfoCtx(ctx, "Received exit signal: %v", sig)
		cancel()
	}()

	launcher := service.NewTrainingService(cfg, nil)
	if err := launcher.RunActor(ctx, group, 0); err != nil && ctx.Err() == nil {
		logger.FatalCtx(ctx, "Actor terminated with error: %v", err)
	}

	logger.InfoCtx(ctx, "Actor safely exited")
}
