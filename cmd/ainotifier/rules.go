package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRulesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "列出平台规则与监听范围",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := opts.openService(true)
			if err != nil {
				return err
			}
			defer svc.Stop()

			out := cmd.OutOrStdout()
			reg := svc.Registry()
			for _, r := range reg.Rules() {
				fmt.Fprintf(out, "%s (%s)\n", r.ID, r.Name)
				fmt.Fprintf(out, "  detection: %s  throttle: %dms  enabledKey: %s\n", r.Detection, r.ThrottleMS, r.EnabledKey)
				fmt.Fprintf(out, "  hosts: %s\n", strings.Join(r.Hosts, ", "))
				if r.Followup != nil {
					fmt.Fprintf(out, "  followup: %s%s after %dms\n", r.Followup.Path, r.Followup.PathRegex, r.Followup.MinDelayMS)
				}
				for name, se := range r.StreamEvents {
					fmt.Fprintf(out, "  stream event %s: %s\n", name, se.EnabledKey)
				}
			}
			fmt.Fprintf(out, "scope: %s\n", strings.Join(reg.AllHostPatterns(), " "))
			return nil
		},
	}
}
