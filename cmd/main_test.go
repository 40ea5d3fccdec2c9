// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/otp-board/internal/config"
	"github.com/xkilldash9x/otp-board/internal/observability"
)

// resetForTest clears package state and every environment variable that
// could leak a real deployment's settings into the test.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	for _, name := range []string{
		"ADMIN_TOKEN", "OTP_API", "DATABASE_URL", "HEADLESS", "GOV_URL", "SLOTS_MAX_DAYS",
		"OTPBOARD_BOARD_TOKEN", "OTPBOARD_SERVER_TOKEN", "OTPBOARD_DATABASE_URL", "OTPBOARD_BOARD_BASE_URL",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
	// Keep the tests away from any config.yaml in the working directory and
	// from writing a log file into the package directory.
	t.Chdir(t.TempDir())
	t.Setenv("OTPBOARD_LOGGER_LOG_FILE", filepath.Join(t.TempDir(), "otpboard.log"))
}

// executeCommand runs a fresh command tree with args and returns its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := NewRootCommand()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// writeConfig writes content to a temporary config.yaml and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// loadConfig runs initializeConfig for cmd the way the root command does and
// returns the resulting configuration.
func loadConfig(t *testing.T, cmd *cobra.Command) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, initializeConfig(cmd, v))
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	return cfg
}
