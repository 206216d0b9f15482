package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"codeassist/internal/files"
	"codeassist/internal/patch"
)

func (a *app) patchCmd() *cobra.Command {
	var (
		file, lineEdits, matchEdits, mode string
		minScore                          int
		dryRun, asJSON                    bool
	)
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Apply line or content edits to a local file",
		Example: `  codeassist patch --file /src/a.py --line-edits '[{"line_number":3,"action":"delete"}]'
  codeassist patch --file /src/a.py --match-edits '[{"content_to_match":"TODO","new_content":"done","action":"modify"}]' --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (lineEdits == "") == (matchEdits == "") {
				return errors.New("exactly one of --line-edits or --match-edits is required")
			}
			cfg, lg, err := a.load()
			if err != nil {
				return err
			}
			svc, closeFn, err := openService(cfg, lg)
			if err != nil {
				return err
			}
			defer closeFn()

			var res *files.UpdateResult
			if lineEdits != "" {
				var edits []patch.LineEdit
				if err := json.Unmarshal([]byte(lineEdits), &edits); err != nil {
					return fmt.Errorf("--line-edits: %w", err)
				}
				res, err = svc.UpdateLines(contextOf(cmd), file, edits, dryRun)
			} else {
				var edits []patch.ContentEdit
				if err := json.Unmarshal([]byte(matchEdits), &edits); err != nil {
					return fmt.Errorf("--match-edits: %w", err)
				}
				m, perr := patch.ParseMode(mode)
				if perr != nil {
					return perr
				}
				res, err = svc.UpdateMatch(contextOf(cmd), file, edits, m, minScore, dryRun)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			if res.Diff != "" {
				fmt.Fprint(out, res.Diff)
			}
			prefix := ""
			if res.DryRun {
				prefix = "[dry-run] "
			}
			fmt.Fprintf(out, "%sapplied=%d skipped=%d changed=%v", prefix, res.Applied, res.Skipped, res.Changed)
			if res.PatchID != "" {
				fmt.Fprintf(out, " patch=%s", res.PatchID)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&file, "file", "", "absolute path of the file to edit")
	f.StringVar(&lineEdits, "line-edits", "", "JSON array of line-number edits")
	f.StringVar(&matchEdits, "match-edits", "", "JSON array of content-match edits")
	f.StringVar(&mode, "mode", "exact", "match mode: exact|fuzzy")
	f.IntVar(&minScore, "min-score", files.DefaultMinScore, "fuzzy score threshold 0..100 (default from config)")
	f.BoolVar(&dryRun, "dry-run", false, "print the diff without writing")
	f.BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var (
		file  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded patches, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lg, err := a.load()
			if err != nil {
				return err
			}
			svc, closeFn, err := openService(cfg, lg)
			if err != nil {
				return err
			}
			defer closeFn()
			list, err := svc.History(file, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tAPPLIED\tCREATED\tROLLED BACK\tPATH")
			for _, p := range list {
				rb := "-"
				if p.RolledBack() {
					rb = p.RolledBackAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", p.ID, p.Kind, p.Applied, p.CreatedAt.Local().Format(time.DateTime), rb, p.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "only patches of this file")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows (0 = all)")
	return cmd
}

func (a *app) rollbackCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rollback <patch-id>",
		Short: "Restore a file to its content before a patch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := a.load()
			if err != nil {
				return err
			}
			svc, closeFn, err := openService(cfg, lg)
			if err != nil {
				return err
			}
			defer closeFn()
			rec, err := svc.Rollback(contextOf(cmd), args[0], force)
			if errors.Is(err, files.ErrConflict) {
				fmt.Fprintln(os.Stderr, "file changed since the patch; pass --force to overwrite")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s (%s)\n", args[0], rec.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "roll back even if the file changed since the patch")
	return cmd
}
