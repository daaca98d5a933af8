package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cafepos/backend/internal/config"
	"cafepos/backend/internal/report"
	"cafepos/backend/internal/store"
)

func newDrawerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drawer",
		Short: "Inspect persisted cash drawer sessions",
	}
	cmd.AddCommand(newDrawerReportCmd())
	return cmd
}

func newDrawerReportCmd() *cobra.Command {
	var (
		registerID string
		day        string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a register's drawer session for a business day",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if registerID == "" {
				registerID = cfg.RegisterID
			}
			if day == "" {
				loc, err := cfg.Location()
				if err != nil {
					return err
				}
				day = time.Now().In(loc).Format(time.DateOnly)
			}
			if _, err := time.Parse(time.DateOnly, day); err != nil {
				return fmt.Errorf("--day must be YYYY-MM-DD: %w", err)
			}

			drawers, closeFn, err := openDrawerStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			snap, err := drawers.LoadDrawer(cmd.Context(), registerID, day)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no drawer session for register %s on %s", registerID, day)
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.RenderDrawer(*snap))
			return nil
		},
	}
	cmd.Flags().StringVar(&registerID, "register", "", "register id (defaults to REGISTER_ID)")
	cmd.Flags().StringVar(&day, "day", "", "business day YYYY-MM-DD (defaults to today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw snapshot as JSON")
	return cmd
}
