package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"annotd/internal/annotate"
)

func newMetadataCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata",
		Short: "Print the app metadata, including universal parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := c.orchestrator(annotate.Options{})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.out)
			enc.SetIndent("", "  ")
			return enc.Encode(orch.Metadata())
		},
	}
}
