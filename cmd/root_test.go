package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/binderyhq/bindery/config"
)

func TestLoadConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bindery.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  listen: "127.0.0.1:7777"
  base-url: "https://file.example"
sync:
  page-size: 50
`), 0o600))

	var flags serveFlags
	var got *config.Config
	cmd := &cobra.Command{
		Use: "test",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			got, err = loadConfig(cmd, &flags)
			return err
		},
	}
	addFlags(cmd.PersistentFlags(), &flags)
	cmd.SetArgs([]string{"--config", file, "--base-url", "https://flag.example"})
	require.NoError(t, cmd.Execute())

	// File over defaults, flags over file.
	require.Equal(t, "127.0.0.1:7777", got.Server.Listen)
	require.Equal(t, "https://flag.example", got.Server.BaseURL)
	require.Equal(t, 50, got.Sync.PageSize)
	require.Equal(t, config.DefaultConfig().DataDir, got.DataDir)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bindery.yaml")
	require.NoError(t, os.WriteFile(file, []byte("no-such-section:\n  x: 1\n"), 0o600))

	var flags serveFlags
	cmd := &cobra.Command{
		Use: "test",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig(cmd, &flags)
			return err
		},
	}
	addFlags(cmd.PersistentFlags(), &flags)
	cmd.SetArgs([]string{"--config", file})
	require.Error(t, cmd.Execute())
}
