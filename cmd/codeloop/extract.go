package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/martinemde/codeloop/toolcall"
)

// extractCmd prints the tool calls found in model text read from stdin.
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Print the tool calls found in model output read from stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		calls := toolcall.Extract(string(text))
		if calls == nil {
			calls = []toolcall.Call{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(calls)
	},
}
