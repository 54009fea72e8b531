package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/crag/mcp"
	"github.com/sweetpotato0/crag/server"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve ask and clarify as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol
		cfg, err := loadConfig(os.Stderr)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		return mcp.NewServer(a.engine, mcp.WithChain(server.DefaultChain(cfg.Engine))).Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
