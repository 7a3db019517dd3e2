package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/microblog/internal/model"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the post search index from the database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		if !a.sync.Enabled() {
			fmt.Fprintln(cmd.OutOrStdout(), "search backend not configured, nothing to do")
			return nil
		}
		res, err := a.sync.Reindex(cmd.Context(), model.Post{})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed=%d failed=%d\n", res.Indexed, res.Failed)
		if res.Failed > 0 {
			return fmt.Errorf("%d documents failed to index", res.Failed)
		}
		return nil
	},
}
