package cli

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pdfjson/internal/config"
	"github.com/roach88/pdfjson/internal/testutil"
)

// newTestOptions returns root options over a fresh fake engine with default
// config and a silent logger.
func newTestOptions(t *testing.T) (*RootOptions, *testutil.FakeQPDF) {
	t.Helper()
	fake := testutil.NewFakeQPDF()
	return &RootOptions{
		Format:  "text",
		Factory: fake.Factory(),
		cfg:     config.Default(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, fake
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "pdfjson", cmd.Use)
	assert.Contains(t, cmd.Long, "qpdf")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"export", "import", "roundtrip", "serve", "watch", "mcp", "journal", "test", "version"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command   string
		flag      string
		shorthand string
		defValue  string
	}{
		{"export", "output", "o", ""},
		{"import", "output", "o", ""},
		{"import", "lenient", "", "false"},
		{"serve", "addr", "", ""},
		{"watch", "json", "", ""},
		{"watch", "out", "", ""},
		{"watch", "debounce", "", "0s"},
		{"journal", "db", "", ""},
		{"journal", "session", "", ""},
		{"journal", "where", "", "[]"},
		{"journal", "limit", "", "0"},
		{"test", "update", "", "false"},
		{"test", "filter", "", ""},
	}

	root := NewRootCommand()
	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.flag, func(t *testing.T) {
			sub, _, err := root.Find([]string{tt.command})
			require.NoError(t, err)
			f := sub.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.shorthand, f.Shorthand)
			assert.Equal(t, tt.defValue, f.DefValue)
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version", "--format", "yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigFlag(t *testing.T) {
	t.Run("missing config file", func(t *testing.T) {
		cmd := NewRootCommand()
		buf := &bytes.Buffer{}
		cmd.SetOut(buf)
		cmd.SetErr(buf)
		cmd.SetArgs([]string{"version", "--config", filepath.Join(t.TempDir(), "nope.yaml")})

		err := cmd.Execute()
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "failed to load config")
	})

	t.Run("invalid config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pdfjson.yaml")
		require.NoError(t, os.WriteFile(path, []byte("timeout: soon\n"), 0o644))

		cmd := NewRootCommand()
		buf := &bytes.Buffer{}
		cmd.SetOut(buf)
		cmd.SetErr(buf)
		cmd.SetArgs([]string{"version", "--config", path})

		err := cmd.Execute()
		require.Error(t, err)
		assert.True(t, config.IsInvalid(err))
	})

	t.Run("valid config file is used", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pdfjson.toml")
		require.NoError(t, os.WriteFile(path, []byte("addr = \"127.0.0.1:9999\"\n"), 0o644))

		opts := &RootOptions{Format: "text"}
		cmd := newRootCommand(opts)
		buf := &bytes.Buffer{}
		cmd.SetOut(buf)
		cmd.SetErr(buf)
		cmd.SetArgs([]string{"version", "--config", path})

		require.NoError(t, cmd.Execute())
		cfg, err := opts.Config()
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9999", cfg.Addr)
		assert.Equal(t, path, cfg.Source)
	})
}

func TestVersionCommand(t *testing.T) {
	opts, _ := newTestOptions(t)
	buf := &bytes.Buffer{}
	cmd := NewVersionCommand(opts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "pdfjson ")
	assert.Contains(t, buf.String(), "journal format 1")
}
