package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "最近发出的通知",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := opts.openService(true)
			if err != nil {
				return err
			}
			defer svc.Stop()

			recs, err := svc.History().Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "暂无通知记录")
				return nil
			}
			for _, r := range recs {
				ts := time.UnixMilli(r.Timestamp).Format(time.DateTime)
				fmt.Fprintf(out, "%s  %-8s %-14s tab=%s  %s\n", ts, r.Platform, r.Source, r.TabID, r.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "显示条数")
	return cmd
}
