package agentblock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogue_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalogue.yaml")
	content := `
get_balance:
  command: npx
  args: ["-y", "@chain/mcp-balance"]
  envVars: ["RPC_URL", "WALLET_PRIVATE_KEY"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cat, err := LoadCatalogue(path)
	require.NoError(t, err)
	require.Contains(t, cat, "get_balance")
	entry := cat["get_balance"]
	assert.Equal(t, "npx", entry.Command)
	assert.Equal(t, []string{"-y", "@chain/mcp-balance"}, entry.Args)
	assert.Equal(t, []string{"RPC_URL", "WALLET_PRIVATE_KEY"}, entry.EnvVars)
}

func TestLoadCatalogue_MissingFileErrors(t *testing.T) {
	_, err := LoadCatalogue("/nonexistent/path/catalogue.yaml")
	assert.Error(t, err)
}

func TestResolveEnv_UserConfigTakesPriorityOverProcessEnv(t *testing.T) {
	t.Setenv("RPC_URL", "https://process-env.example")
	entry := CatalogueEntry{EnvVars: []string{"RPC_URL"}}
	userConfig := map[string]any{"RPC_URL": "https://user-config.example"}

	env := resolveEnv(entry, userConfig)
	assert.Contains(t, env, "RPC_URL=https://user-config.example")
	assert.NotContains(t, env, "RPC_URL=https://process-env.example")
}

func TestResolveEnv_FallsBackToProcessEnvWhenNoUserConfig(t *testing.T) {
	t.Setenv("RPC_URL", "https://process-env.example")
	entry := CatalogueEntry{EnvVars: []string{"RPC_URL"}}

	env := resolveEnv(entry, nil)
	assert.Contains(t, env, "RPC_URL=https://process-env.example")
}

func TestResolveEnv_UnsetVarsAreOmittedNotEmpty(t *testing.T) {
	os.Unsetenv("WALLET_PRIVATE_KEY")
	entry := CatalogueEntry{EnvVars: []string{"WALLET_PRIVATE_KEY"}}

	env := resolveEnv(entry, nil)
	for _, kv := range env {
		assert.NotEqual(t, "WALLET_PRIVATE_KEY=", kv)
	}
}
