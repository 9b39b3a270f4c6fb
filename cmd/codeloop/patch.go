package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/codeloop/patch"
)

var (
	patchTarget string
	patchFile   string
	patchDryRun bool
)

// patchCmd applies a unified diff to one file without involving a model.
var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Apply a unified diff to a single file",
	Long: `Applies the hunks in --patch-file to --target. The file is only replaced
when every hunk applies; with --dry-run nothing is written.

Example:
  codeloop patch --target main.go --patch-file fix.diff --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		diff, err := os.ReadFile(patchFile)
		if err != nil {
			return fmt.Errorf("reading patch: %w", err)
		}
		target := patchTarget
		if !filepath.IsAbs(target) && cfg.WorkDir != "" {
			target = filepath.Join(cfg.WorkDir, target)
		}
		result, err := patch.ApplyFile(target, string(diff), patchDryRun)
		if err != nil {
			return err
		}
		logger.Debug("patch applied",
			zap.String("target", result.Path),
			zap.Int("hunks", result.Hunks),
			zap.Bool("created", result.Created),
			zap.Bool("dry_run", result.DryRun),
		)
		fmt.Fprintln(cmd.OutOrStdout(), result.Message())
		return nil
	},
}

func init() {
	patchCmd.Flags().StringVar(&patchTarget, "target", "", "File to patch (required)")
	patchCmd.Flags().StringVar(&patchFile, "patch-file", "", "Unified diff to apply (required)")
	patchCmd.Flags().BoolVar(&patchDryRun, "dry-run", false, "Check that the patch applies without writing")
	patchCmd.MarkFlagRequired("target")
	patchCmd.MarkFlagRequired("patch-file")
}
