package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"ainotifier/internal/storage"
)

func newSoundCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sound",
		Short: "提示音",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test [volume]",
		Short: "播放测试音，不指定音量时使用设置值",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var volume *float64
			if len(args) == 1 {
				v, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return fmt.Errorf("invalid volume %q: %w", args[0], err)
				}
				v = storage.ClampVolume(v)
				volume = &v
			}
			svc, err := opts.openService(true)
			if err != nil {
				return err
			}
			defer svc.Stop()

			if volume != nil {
				fmt.Fprintln(cmd.OutOrStdout(), volumeLabel(*volume))
			}
			return svc.PlayTestSound(cmd.Context(), volume)
		},
	})
	return cmd
}

// volumeLabel 测试音提示文案
func volumeLabel(v float64) string {
	switch {
	case v == 0:
		return "音量已设为静音 (0%)"
	case math.Abs(v-storage.MaxSoundVolume) < 0.001:
		return fmt.Sprintf("音量已设为最大 (%d%%)", int(math.Round(storage.MaxSoundVolume*100)))
	case math.Abs(v-storage.DefaultSoundVolume) < 0.001:
		return fmt.Sprintf("音量已设为默认值 (%d%%)", int(math.Round(storage.DefaultSoundVolume*100)))
	default:
		return fmt.Sprintf("正在播放测试音效，音量：%d%%", int(math.Round(v*100)))
	}
}
