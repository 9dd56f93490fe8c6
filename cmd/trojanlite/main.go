// Command trojanlite runs either end of the proxy: a server that
// terminates the Trojan tunnel, or a local client that forwards
// HTTP/SOCKS5 traffic into one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"trojanlite/internal/config"
	"trojanlite/internal/logging"
	"trojanlite/pkg/client"
	"trojanlite/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path to a trojanlite config file (json, yaml, or toml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "trojanlite:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cfg.Mode {
	case config.ModeServer:
		log.Info("🔹 starting trojanlite server", zap.String("listen", cfg.Listen))
		return server.New(cfg, log).Run(ctx)
	default:
		log.Info("🔹 starting trojanlite client", zap.String("listen", cfg.Listen), zap.String("remote", cfg.Remote))
		return client.New(cfg, log).Run(ctx)
	}
}
