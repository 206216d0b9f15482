package main

import (
	"context"

	"codeassist/internal/config"
	"codeassist/internal/files"
	mylog "codeassist/internal/log"
	"codeassist/internal/mcptools"
	"codeassist/internal/server"
	"codeassist/internal/store"
	"codeassist/internal/webtext"
)

func runServer(ctx context.Context, addr string, cfg config.Config, lg *mylog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return server.Run(ctx, addr, cfg, lg)
}

// runMCP keeps stdout for the protocol; logs go to stderr.
func runMCP(cfg config.Config, lg *mylog.Logger) error {
	repo, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer repo.Close()
	fs := files.New(repo, files.OptionsFromConfig(cfg), lg)
	lg.Info("mcp.start", "readOnly", cfg.ReadOnly)
	return mcptools.New(fs, webtext.New(cfg.FetchTimeout, cfg.MaxFetchBytes)).ServeStdio()
}

// openService builds a files.Service over the configured history store.
func openService(cfg config.Config, lg *mylog.Logger) (*files.Service, func() error, error) {
	repo, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return files.New(repo, files.OptionsFromConfig(cfg), lg), repo.Close, nil
}
