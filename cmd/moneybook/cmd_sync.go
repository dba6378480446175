package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync against Notion and exit",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "drop the cached table and fetch every row")
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if syncFull {
		if err := a.syncer.Reset(); err != nil {
			return err
		}
	}
	_, result, err := a.syncer.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	mode := "incremental"
	if result.Full {
		mode = "full"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s sync: fetched %d, inserted %d, updated %d, %d rows cached\n",
		mode, result.Fetched, result.Inserted, result.Updated, result.Rows)
	fmt.Fprintf(cmd.OutOrStdout(), "watermark: %s\n", result.Watermark)
	return nil
}
