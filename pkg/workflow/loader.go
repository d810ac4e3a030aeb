package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/elena-cav/stepflow/pkg/models"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("unsupported definition format")

// Format is the encoding of a definition document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf derives the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Parse decodes and structurally validates one definition document. Graph
// validation happens when the workflow is registered.
func Parse(name string, data []byte, format Format) (*models.Workflow, error) {
	var (
		document any
		wf       models.Workflow
		err      error
	)

	switch format {
	case FormatJSON:
		err = models.DecodeJSON(data, &document)
		if err == nil {
			err = models.DecodeJSON(data, &wf)
		}
	case FormatYAML:
		err = yaml.Unmarshal(data, &document)
		if err == nil {
			err = yaml.Unmarshal(data, &wf)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}

	err = ValidateDocument(name, document)
	if err != nil {
		return nil, err
	}

	return &wf, nil
}

// LoadFile reads and parses one definition file.
func LoadFile(path string) (*models.Workflow, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return Parse(filepath.Base(path), data, format)
}

// LoadDir parses every *.json, *.yaml and *.yml file directly under dir, in name order.
func LoadDir(dir string) ([]*models.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows directory %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var workflows []*models.Workflow

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if _, err := FormatOf(entry.Name()); err != nil {
			continue
		}

		wf, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, wf)
	}

	return workflows, nil
}

// LoadInto loads dir and registers every workflow, failing on the first invalid
// one or on a duplicated name.
func (d *Definitions) LoadInto(dir string) (int, error) {
	workflows, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(workflows))

	for _, wf := range workflows {
		if seen[wf.Name] {
			return 0, fmt.Errorf("%w: duplicate workflow name %q in %s", ErrInvalidDefinition, wf.Name, dir)
		}

		seen[wf.Name] = true
	}

	for _, wf := range workflows {
		err := d.Register(wf)
		if err != nil {
			return 0, err
		}
	}

	return len(workflows), nil
}

// Marshal renders a workflow in the requested format.
func Marshal(wf *models.Workflow, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(wf, "", "  ")
	case FormatYAML:
		return marshalYAML(wf)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// marshalYAML goes through JSON so json.Number parameters render as numbers
// and keys keep the field order of the JSON encoding.
func marshalYAML(wf *models.Workflow) ([]byte, error) {
	data, err := json.Marshal(wf)
	if err != nil {
		return nil, err
	}

	var node yaml.Node

	err = yaml.Unmarshal(data, &node)
	if err != nil {
		return nil, err
	}

	clearStyle(&node)

	return yaml.Marshal(&node)
}

func clearStyle(node *yaml.Node) {
	node.Style = 0

	for _, child := range node.Content {
		clearStyle(child)
	}
}
