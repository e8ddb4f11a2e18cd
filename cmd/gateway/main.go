// Package main is the entrypoint for the access gateway. The gateway
// serves the authentication surface and enforces access decisions in
// front of the protected back-end.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Harshith2412/zta-finance/internal/config"
	"github.com/Harshith2412/zta-finance/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:           "gateway",
		PortFromConfig: func(cfg *config.Config) int { return cfg.Gateway.HTTPPort },
		Setup:          setup,
	}, nil)
}
