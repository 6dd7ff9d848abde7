package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ainotifier/pkg/model"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "启动监听，直到收到 SIGINT/SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := opts.openService(false)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := svc.Start(ctx); err != nil {
				_ = svc.Stop()
				return err
			}
			if opts.verbose {
				go printEvents(ctx, cmd, svc.Events())
			} else {
				go drainEvents(ctx, svc.Events())
			}

			<-ctx.Done()
			return svc.Stop()
		},
	}
}

func printEvents(ctx context.Context, cmd *cobra.Command, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			ts := time.UnixMilli(ev.Timestamp).Format(time.TimeOnly)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %-9s %-8s tab=%s req=%s %s\n", ts, ev.Type, ev.Platform, ev.Tab, ev.RequestID, ev.Detail)
		}
	}
}

func drainEvents(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
		}
	}
}
