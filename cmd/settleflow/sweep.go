package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	var job string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the release and compensation sweeps once and print their reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			if job == "release" || job == "all" {
				summary, err := a.evaluator.Run(ctx)
				if err != nil {
					return fmt.Errorf("wallet release sweep: %w", err)
				}
				if err := enc.Encode(summary); err != nil {
					return err
				}
			}

			if job == "compensation" || job == "all" {
				summary, err := a.engine.Run(ctx)
				if err != nil {
					return fmt.Errorf("compensation sweep: %w", err)
				}
				if err := enc.Encode(summary); err != nil {
					return err
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&job, "job", "all", "which sweep to run: release, compensation or all")
	return cmd
}
