package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"automation-engine/internal/logger"
)

// Loader reads workflow definitions from the filesystem.
type Loader struct {
	logger *logger.Logger
}

// NewLoader creates a new workflow definition loader.
func NewLoader(log *logger.Logger) *Loader {
	return &Loader{
		logger: log,
	}
}

// LoadFromDirectory loads all workflow definitions from a directory and its
// subdirectories. Files may be JSON or YAML, each holding a list of
// definitions. One invalid definition fails the whole load.
func (l *Loader) LoadFromDirectory(path string) ([]Definition, error) {
	var defs []Definition

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

		l.logger.Debug("loading workflow file", "path", path)

		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Error("failed to read workflow file",
				"path", path,
				"error", err)
			return err
		}

		var fileDefs []Definition
		if ext == ".json" {
			err = json.Unmarshal(data, &fileDefs)
		} else {
			err = unmarshalYAML(data, &fileDefs)
		}
		if err != nil {
			l.logger.Error("failed to parse workflow file",
				"path", path,
				"error", err)
			return err
		}

		for i := range fileDefs {
			if err := ValidateDefinition(&fileDefs[i]); err != nil {
				return fmt.Errorf("%s: workflow %q: %w", path, fileDefs[i].ID, err)
			}
		}

		defs = append(defs, fileDefs...)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	l.logger.Info("workflows loaded successfully",
		"totalWorkflows", len(defs))

	return defs, nil
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
