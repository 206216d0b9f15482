package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"codeassist/internal/config"
	mylog "codeassist/internal/log"
	"codeassist/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
}

func (a *app) load() (config.Config, *mylog.Logger, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, mylog.NewWithWriter(os.Stderr, cfg.LogLevel), nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "codeassist",
		Short:         "Line-addressed file editing service for coding assistants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default "+config.Path()+")")
	root.AddCommand(
		a.serveCmd(),
		a.mcpCmd(),
		a.patchCmd(),
		a.historyCmd(),
		a.rollbackCmd(),
		a.migrateCmd(),
		a.configCmd(),
		a.tokenCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
			},
		},
	)
	return root
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lg, err := a.load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Addr()
			}
			return runServer(cmd.Context(), addr, cfg, lg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config port)")
	return cmd
}

func (a *app) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the file tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lg, err := a.load()
			if err != nil {
				return err
			}
			return runMCP(cfg, lg)
		},
	}
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
