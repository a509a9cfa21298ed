package agentblock

import (
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogueEntry is one MCP tool server's static definition: how to spawn
// it and which environment variables its command expects.
type CatalogueEntry struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	EnvVars []string `yaml:"envVars"`
}

// Catalogue maps a tool id to its CatalogueEntry.
type Catalogue map[string]CatalogueEntry

// LoadCatalogue reads a YAML document of the form:
//
//	get_balance:
//	  command: npx
//	  args: ["-y", "@chain/mcp-balance"]
//	  envVars: ["RPC_URL", "WALLET_PRIVATE_KEY"]
func LoadCatalogue(path string) (Catalogue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cat Catalogue
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// commonProcessEnvNames is the short list of commonly needed names
// consulted at priority (c), below user config and catalogue-named vars
// but above safe defaults.
var commonProcessEnvNames = []string{
	"WALLET_PRIVATE_KEY",
	"RPC_URL",
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
}

// resolveEnv merges env sources in priority order: user-provided config
// values, then catalogue-named env vars from the process environment,
// then the common names from the process environment, then safe defaults.
func resolveEnv(entry CatalogueEntry, userConfig map[string]any) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(key, value string) {
		if value == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, key+"="+value)
	}

	for _, name := range entry.EnvVars {
		if v, ok := userConfig[name]; ok {
			if s, ok := v.(string); ok {
				add(name, s)
			}
		}
	}
	for _, name := range entry.EnvVars {
		add(name, os.Getenv(name))
	}
	for _, name := range commonProcessEnvNames {
		add(name, os.Getenv(name))
	}
	// Safe default: any catalogue-named var still unset is left out of
	// Env entirely rather than passed as an empty string, so the
	// subprocess falls back to its own built-in default.
	return out
}
