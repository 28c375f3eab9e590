// Command otpauthd serves OTP sign-in over HTTP.
//
// Configuration comes from an optional YAML file (-config) overridden by
// environment variables; DB_URL, REDIS_URL and SESSION_SECRET are required.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/MrEthical07/otpauth/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "configs/otpauthd.yaml"), "path to YAML config")
	flag.Parse()

	ctx := context.Background()
	rt, err := bootstrap.NewRuntime(ctx, *configPath)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	if err := rt.Run(ctx); err != nil {
		slog.Error("otpauthd stopped", "error", err)
		os.Exit(1)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
