package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Settings is the on-disk shape of the capability settings file.
type Settings struct {
	MCPServers map[string]ServerConfig `json:"mcpServers" yaml:"mcpServers"`
}

// LoadSettings reads server configs from path. JSON files may contain
// comments and trailing commas; .yaml and .yml files are parsed as YAML.
// A missing file yields an empty set.
func LoadSettings(path string) (map[string]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]ServerConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	return ParseSettings(data, format)
}

// ParseSettings decodes settings in the given format ("json" or "yaml").
func ParseSettings(data []byte, format string) (map[string]ServerConfig, error) {
	var s Settings
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse yaml settings: %w", err)
		}
	default:
		if len(strings.TrimSpace(string(data))) == 0 {
			return map[string]ServerConfig{}, nil
		}
		if err := json.Unmarshal(jsonc.ToJSON(data), &s); err != nil {
			return nil, fmt.Errorf("parse json settings: %w", err)
		}
	}
	if s.MCPServers == nil {
		s.MCPServers = map[string]ServerConfig{}
	}
	return s.MCPServers, nil
}
