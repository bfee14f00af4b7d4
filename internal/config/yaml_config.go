package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/redmine-drafts/internal/utils"
)

// KnownKeys lists the keys `rd config set` accepts.
var KnownKeys = []string{
	KeyRedmineURL,
	KeyRedmineAPIKey,
	KeyRedmineTimeout,
	KeyDraftsPath,
	KeyTelemetryEnabled,
}

// IsKnownKey reports whether key is a configuration key rd reads.
func IsKnownKey(key string) bool {
	for _, k := range KnownKeys {
		if k == key {
			return true
		}
	}
	return false
}

// SecretKeys are masked when settings are printed.
var SecretKeys = map[string]bool{
	KeyRedmineAPIKey: true,
}

// SetYamlConfig sets key in config.yaml, creating the file if needed.
// Dotted keys are stored as nested mappings. Comments and unrelated keys
// are preserved.
func SetYamlConfig(key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key %q (known keys: %s)", key, strings.Join(KnownKeys, ", "))
	}
	if err := validateValue(key, value); err != nil {
		return err
	}
	return editYaml(ConfigPath(), func(root *yaml.Node) {
		setNode(root, strings.Split(key, "."), scalarNode(value))
	})
}

// UnsetYamlConfig removes key from config.yaml. It is not an error if the
// key or the file does not exist.
func UnsetYamlConfig(key string) error {
	if _, err := os.Stat(ConfigPath()); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return editYaml(ConfigPath(), func(root *yaml.Node) {
		removeNode(root, strings.Split(key, "."))
	})
}

func validateValue(key, value string) error {
	switch key {
	case KeyRedmineTimeout:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a duration such as 30s: %w", key, err)
		}
	case KeyTelemetryEnabled:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s must be true or false", key)
		}
	case KeyRedmineURL:
		if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return fmt.Errorf("%s must start with http:// or https://", key)
		}
	}
	return nil
}

// editYaml loads path as a yaml.Node document, applies edit to its root
// mapping, and writes it back atomically. The viper instance is reloaded
// so the change is visible immediately.
func editYaml(path string, edit func(mapping *yaml.Node)) error {
	data, err := os.ReadFile(path) // #nosec G304 - config path from Home
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read config.yaml: %w", err)
	}

	var root yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &root); err != nil {
			return fmt.Errorf("failed to parse config.yaml: %w", err)
		}
	}
	// Empty or comment-only files decode to an empty document.
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	if root.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("config.yaml must be a mapping at the top level")
	}

	edit(root.Content[0])

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return fmt.Errorf("failed to encode config.yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config.yaml: %w", err)
	}
	if err := utils.WriteFileAtomic(path, buf.Bytes(), 0o600); err != nil {
		return err
	}

	if v != nil {
		// Not fatal: the file is written and the next run reads it.
		_ = v.ReadInConfig()
	}
	return nil
}

// scalarNode tags value so it reads back with the type viper expects.
func scalarNode(value string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Value: value, Tag: "!!str"}
	if _, err := strconv.ParseBool(value); err == nil && (value == "true" || value == "false") {
		n.Tag = "!!bool"
	} else if i, err := strconv.Atoi(value); err == nil && strconv.Itoa(i) == value {
		n.Tag = "!!int"
	}
	return n
}

func mappingValue(mapping *yaml.Node, key string) (int, *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return i, mapping.Content[i+1]
		}
	}
	return -1, nil
}

func setNode(mapping *yaml.Node, path []string, value *yaml.Node) {
	i, existing := mappingValue(mapping, path[0])
	if len(path) == 1 {
		if i >= 0 {
			value.LineComment = existing.LineComment
			mapping.Content[i+1] = value
			return
		}
		mapping.Content = append(mapping.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: path[0]}, value)
		return
	}
	if existing == nil || existing.Kind != yaml.MappingNode {
		child := &yaml.Node{Kind: yaml.MappingNode}
		if i >= 0 {
			mapping.Content[i+1] = child
		} else {
			mapping.Content = append(mapping.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: path[0]}, child)
		}
		existing = child
	}
	setNode(existing, path[1:], value)
}

func removeNode(mapping *yaml.Node, path []string) {
	i, existing := mappingValue(mapping, path[0])
	if i < 0 {
		return
	}
	if len(path) == 1 {
		mapping.Content = append(mapping.Content[:i], mapping.Content[i+2:]...)
		return
	}
	if existing.Kind != yaml.MappingNode {
		return
	}
	removeNode(existing, path[1:])
	if len(existing.Content) == 0 {
		mapping.Content = append(mapping.Content[:i], mapping.Content[i+2:]...)
	}
}

// MaskSecret shortens a secret for display.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
