package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"mcpServers": {
			"filesystem": {
				"command": "npx",
				"args": ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"],
				"env": {"LOG_LEVEL": "debug"},
				"wkdir": "/tmp"
			},
			"remote": {
				"url": "http://localhost:3000/mcp",
				"headers": {"Authorization": "Bearer abc"}
			}
		}
	}`))
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)

	fs := cfg.Servers["filesystem"]
	assert.Equal(t, KindStdio, fs.Kind())
	assert.Equal(t, "npx", fs.Command)
	assert.Equal(t, []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"}, fs.Args)
	assert.Equal(t, "/tmp", fs.WorkDir)

	remote := cfg.Servers["remote"]
	assert.Equal(t, KindHTTP, remote.Kind())
	assert.Equal(t, "http://localhost:3000/mcp", remote.URL)
	assert.Equal(t, "Bearer abc", remote.Headers["Authorization"])
}

func TestParseRejectsAmbiguousEntry(t *testing.T) {
	_, err := Parse([]byte(`{
		"mcpServers": {
			"bad": {"command": "npx", "url": "http://localhost:3000"}
		}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestParseRejectsEmptyEntry(t *testing.T) {
	_, err := Parse([]byte(`{"mcpServers": {"bad": {}}}`))
	require.Error(t, err)
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"mcpServers":`))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.json")
	err := os.WriteFile(path, []byte(`{
		"mcpServers": {"echo": {"command": "cat", "args": []}}
	}`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cat", cfg.Servers["echo"].Command)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestResolvedExpandsPlaceholders(t *testing.T) {
	t.Setenv("API_TOKEN", "s3cret")
	t.Setenv("DATA_DIR", "/var/data")

	cfg := ServerConfig{
		Command: "server",
		Args:    []string{"--root", "${DATA_DIR}/files"},
		Env:     map[string]string{"TOKEN": "${API_TOKEN}"},
		Headers: map[string]string{"Authorization": "Bearer ${API_TOKEN}"},
	}

	resolved := cfg.Resolved()
	assert.Equal(t, []string{"--root", "/var/data/files"}, resolved.Args)
	assert.Equal(t, "s3cret", resolved.Env["TOKEN"])
	assert.Equal(t, "Bearer s3cret", resolved.Headers["Authorization"])

	// Original is untouched.
	assert.Equal(t, "${API_TOKEN}", cfg.Env["TOKEN"])
}

func TestResolvedInputPlaceholderUppercases(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "gh-token")

	cfg := ServerConfig{
		Command: "server",
		Args:    []string{"--token", "${input:github_token}"},
	}

	resolved := cfg.Resolved()
	assert.Equal(t, []string{"--token", "gh-token"}, resolved.Args)
}

func TestResolvedUnsetVarExpandsEmpty(t *testing.T) {
	cfg := ServerConfig{
		Command: "server",
		Args:    []string{"${DEFINITELY_NOT_SET_ANYWHERE}"},
	}

	resolved := cfg.Resolved()
	assert.Equal(t, []string{""}, resolved.Args)
}
