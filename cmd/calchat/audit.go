package main

import (
	"encoding/json"
	"fmt"

	"CalChat/internal/audit"
	"CalChat/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newAuditCmd(v *viper.Viper) *cobra.Command {
	var (
		sessionID string
		limit     int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent tool calls from the audit log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, err := audit.Open(cfg.AuditDBPath)
			if err != nil {
				return err
			}
			defer log.Close()

			entries, err := log.Recent(cmd.Context(), sessionID, limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderAudit(entries, newStyles()))
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "only show calls from this session")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	cmd.Flags().String("db", "", "audit database path (overrides AUDIT_DB_PATH)")
	_ = v.BindPFlag("audit.db_path", cmd.Flags().Lookup("db"))
	return cmd
}
