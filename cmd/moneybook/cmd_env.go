package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Show the effective settings with secrets redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		rows := [][2]string{
			{"DATABASE_ID", cfg.Notion.DatabaseID},
			{"INTEGRATION_TOKEN", cfg.RedactedToken()},
			{"NOTION_VERSION", cfg.Notion.Version},
			{"NOTION_URL", cfg.Notion.BaseURL},
			{"WATERMARK_PROPERTY", cfg.Notion.WatermarkProperty},
			{"ID_PROPERTY", cfg.Notion.IDProperty},
			{"DATE_COLUMN", cfg.Columns.Date},
			{"AMOUNT_COLUMN", cfg.Columns.Amount},
			{"CATEGORY_COLUMN", cfg.Columns.Category},
			{"PAYMENT_COLUMN", cfg.Columns.Payment},
			{"EXCLUDED_CATEGORY", cfg.Columns.ExcludedCategory},
			{"CASH_PAYMENT", cfg.Columns.CashPayment},
			{"STORAGE_TYPE", string(cfg.Storage.StorageType)},
			{"STORAGE_URL", cfg.Storage.StorageURL},
			{"LISTEN_ADDR", cfg.Server.ListenAddr},
			{"SYNC_ON_LOAD", fmt.Sprint(cfg.Server.SyncOnLoad)},
			{"SYNC_INTERVAL", cfg.Server.SyncInterval.String()},
			{"DASHBOARD_AUTH", fmt.Sprint(cfg.Server.DashboardPassword != "")},
			{"TIMEZONE", cfg.Timezone},
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\n", r[0], r[1])
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(w, "\nINVALID\t%v\n", err)
		}
		return w.Flush()
	},
}
