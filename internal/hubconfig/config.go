// Package hubconfig loads the hub server's configuration: listen address,
// session directory, provider settings, and worker pool manager defaults.
// Grounded on internal/config/loader.go's $include + os.ExpandEnv layered
// YAML loading, collapsed to a single file (the hub's config surface is
// small enough not to need the teacher's multi-file include graph, though
// the $include mechanism is kept for operators who want to split secrets
// out of a checked-in base file).
package hubconfig

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the hub server's top-level configuration.
type Config struct {
	ListenAddr string         `yaml:"listen_addr"`
	SessionDir string         `yaml:"session_dir"`
	Provider   ProviderConfig `yaml:"provider"`
	Pool       PoolConfig     `yaml:"pool"`
}

// ProviderConfig configures the LLM provider the agent loop calls.
type ProviderConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	System    string `yaml:"system"`
	MaxTokens int    `yaml:"max_tokens"`
}

// PoolConfig configures defaults handed to the worker pool manager.
type PoolConfig struct {
	HubURL   string `yaml:"hub_url"`
	BasePort int    `yaml:"base_port"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		ListenAddr: ":8080",
		SessionDir: "sessions",
		Provider: ProviderConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Pool: PoolConfig{
			BasePort: 9601,
		},
	}
}

const includeKey = "$include"

// Load reads path, resolving $include directives and expanding environment
// variables, and merges the result over Defaults().
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	raw, err := loadRawRecursive(path, map[string]bool{})
	if err != nil {
		return Config{}, err
	}

	payload, err := yaml.Marshal(raw)
	if err != nil {
		return Config{}, fmt.Errorf("hubconfig: serialize merged config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("hubconfig: parse config: %w", err)
	}
	return cfg, nil
}

func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, fmt.Errorf("hubconfig: include cycle at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("hubconfig: parse %s: %w", absPath, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	if len(includes) > 0 {
		baseDir := filepath.Dir(absPath)
		for _, inc := range includes {
			incPath := inc
			if !filepath.IsAbs(incPath) {
				incPath = filepath.Join(baseDir, incPath)
			}
			incRaw, err := loadRawRecursive(incPath, seen)
			if err != nil {
				return nil, err
			}
			merged = mergeMaps(merged, incRaw)
		}
	}
	return mergeMaps(merged, raw), nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	val, ok := raw[includeKey]
	if !ok {
		return nil, nil
	}
	delete(raw, includeKey)

	switch typed := val.(type) {
	case string:
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("hubconfig: %s entries must be strings", includeKey)
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("hubconfig: %s must be a string or list of strings", includeKey)
	}
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}
