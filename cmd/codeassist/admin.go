package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"codeassist/internal/config"
	"codeassist/internal/storage/sqlite"
	"codeassist/internal/store"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Manage the patch history schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			if cfg.SQLitePath == "" {
				return errors.New("sqlite_path is not configured")
			}
			st, err := store.NewSQLite(cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := contextOf(cmd)
			var m sqlite.Manager
			op := "up"
			if len(args) == 1 {
				op = args[0]
			}
			switch op {
			case "up":
				err = m.UpToLatest(ctx, st.DB())
			case "down":
				err = m.DownOne(ctx, st.DB())
			}
			if err != nil {
				return err
			}
			v, err := m.Version(ctx, st.DB())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			if cfg.APIToken != "" {
				cfg.APIToken = "****"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}, &cobra.Command{
		Use:   "path",
		Short: "Print the default config file location",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Path())
		},
	}, &cobra.Command{
		Use:   "env",
		Short: "List recognised environment variables",
		Run: func(cmd *cobra.Command, _ []string) {
			for _, k := range config.KnownKeys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
		},
	})
	return cmd
}

func (a *app) tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Manage the API token in the OS keyring"}
	cmd.AddCommand(&cobra.Command{
		Use:   "set [token]",
		Short: "Store the API token (reads stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tok string
			if len(args) == 1 {
				tok = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				tok = line
			}
			tok = strings.TrimSpace(tok)
			if tok == "" {
				return errors.New("empty token")
			}
			if err := config.StoreToken(tok); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token stored; set token_from_keyring: true to use it")
			return nil
		},
	})
	return cmd
}
