package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/skyframe/internal/app"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one seen-history purge pass over all users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				started := time.Now()
				users, removed, err := a.Sweeper.RunOnce(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("swept users=%d removed=%d took=%v\n", users, removed, time.Since(started))
				return nil
			})
		},
	}
}
