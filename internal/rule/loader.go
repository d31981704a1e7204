package rule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"automation-engine/internal/logger"
)

// Loader reads rule definitions from the filesystem.
type Loader struct {
	logger *logger.Logger
}

// NewLoader creates a new rule definition loader.
func NewLoader(log *logger.Logger) *Loader {
	return &Loader{
		logger: log,
	}
}

// LoadFromDirectory loads all rule definitions from a directory and its
// subdirectories. Files may be JSON or YAML, each holding a list of rules.
// Every rule is validated; one invalid definition fails the whole load so
// a broken deploy is caught at startup, not at trigger time.
func (l *Loader) LoadFromDirectory(path string) ([]Rule, error) {
	var rules []Rule

	err := filepath.Walk(path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			return nil
		}

		l.logger.Debug("loading rule file", "path", path)

		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Error("failed to read rule file",
				"path", path,
				"error", err)
			return err
		}

		var fileRules []Rule
		if ext == ".json" {
			err = json.Unmarshal(data, &fileRules)
		} else {
			err = unmarshalYAML(data, &fileRules)
		}
		if err != nil {
			l.logger.Error("failed to parse rule file",
				"path", path,
				"error", err)
			return err
		}

		for i := range fileRules {
			if err := ValidateRule(&fileRules[i]); err != nil {
				return fmt.Errorf("%s: rule %q: %w", path, fileRules[i].ID, err)
			}
		}

		l.logger.Debug("successfully loaded rules",
			"path", path,
			"count", len(fileRules))

		rules = append(rules, fileRules...)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	l.logger.Info("rules loaded successfully",
		"totalRules", len(rules))

	return rules, nil
}

// unmarshalYAML decodes YAML by round-tripping through JSON so the same
// camelCase keys work in both formats.
func unmarshalYAML(data []byte, out any) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, out)
}
