package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ainotifier/internal/config"
	"ainotifier/internal/storage"
)

func TestParseSetting(t *testing.T) {
	defaults := settingDefaults(map[string]any{"chatgptEnabled": true})

	v, err := parseSetting(defaults, "chatgptEnabled", "false")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = parseSetting(defaults, storage.KeySoundVolume, "3")
	require.NoError(t, err)
	assert.Equal(t, storage.MaxSoundVolume, v)

	_, err = parseSetting(defaults, "chatgptEnabled", "maybe")
	assert.Error(t, err)
	_, err = parseSetting(defaults, storage.KeySoundVolume, "loud")
	assert.Error(t, err)
	_, err = parseSetting(defaults, "unknown", "1")
	assert.Error(t, err)
}

func TestVolumeLabel(t *testing.T) {
	assert.Equal(t, "音量已设为静音 (0%)", volumeLabel(0))
	assert.Equal(t, "音量已设为最大 (150%)", volumeLabel(1.5))
	assert.Equal(t, "音量已设为默认值 (100%)", volumeLabel(1))
	assert.Equal(t, "正在播放测试音效，音量：40%", volumeLabel(0.4))
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvConfigPath, "")
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "sqlite:\n  dsn: " + filepath.ToSlash(filepath.Join(dir, "db.sqlite3")) + "\nlog:\n  writer: [console]\n"
	require.NoError(t, writeFile(cfgPath, yaml))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath, "--env-file", filepath.Join(dir, "missing.env")}, args...))
	require.NoError(t, root.Execute())
	return out.String()
}

func TestRulesCommand(t *testing.T) {
	out := execute(t, "rules")
	assert.Contains(t, out, "chatgpt (ChatGPT)")
	assert.Contains(t, out, "followup: /backend-api/lat/r after 10000ms")
	assert.Contains(t, out, "https://*.chatgpt.com/*")
}

func TestSettingsGetDefaults(t *testing.T) {
	out := execute(t, "settings", "get")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 5)
	assert.Contains(t, out, "soundVolume")
}

func TestHistoryEmpty(t *testing.T) {
	assert.Contains(t, execute(t, "history"), "暂无通知记录")
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
