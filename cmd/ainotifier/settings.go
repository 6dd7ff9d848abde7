package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ainotifier/internal/storage"
)

func newSettingsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "查看或修改用户设置",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "显示设置（含默认值）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.openService(true)
			if err != nil {
				return err
			}
			defer svc.Stop()

			defaults := settingDefaults(svc.Registry().EnabledDefaults())
			vals, err := svc.Settings().Get(cmd.Context(), defaults)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				v, ok := vals[args[0]]
				if !ok {
					return fmt.Errorf("unknown setting %q", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			}
			keys := make([]string, 0, len(vals))
			for k := range vals {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%-28s %v\n", k, vals[k])
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "修改一项设置",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.openService(true)
			if err != nil {
				return err
			}
			defer svc.Stop()

			defaults := settingDefaults(svc.Registry().EnabledDefaults())
			v, err := parseSetting(defaults, args[0], args[1])
			if err != nil {
				return err
			}
			if err := svc.Settings().Set(cmd.Context(), args[0], v); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", args[0], v)
			return nil
		},
	})
	return cmd
}

// settingDefaults 平台开关加音量
func settingDefaults(enabled map[string]any) map[string]any {
	out := make(map[string]any, len(enabled)+1)
	for k, v := range enabled {
		out[k] = v
	}
	out[storage.KeySoundVolume] = storage.DefaultSoundVolume
	return out
}

// parseSetting 按默认值的类型解析命令行输入
func parseSetting(defaults map[string]any, key, raw string) (any, error) {
	def, ok := defaults[key]
	if !ok {
		return nil, fmt.Errorf("unknown setting %q", key)
	}
	switch def.(type) {
	case bool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s expects true/false: %w", key, err)
		}
		return b, nil
	case float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%s expects a number: %w", key, err)
		}
		if key == storage.KeySoundVolume {
			f = storage.ClampVolume(f)
		}
		return f, nil
	default:
		return raw, nil
	}
}
