// Package workflowfile reads workflow definitions from YAML or JSON files.
package workflowfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aescanero/flowfarm/internal/domain"
	"gopkg.in/yaml.v3"
)

// Format is a definition encoding
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Load reads a definition, choosing the format from the file extension.
// Files without a known extension are sniffed.
func Load(path string) (*domain.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".json":
		format = FormatJSON
	default:
		format = Detect(data)
	}

	wf, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if wf.ID == "" {
		wf.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return wf, nil
}

// Detect guesses the format: JSON documents start with '{'
func Detect(data []byte) Format {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes a definition in the given format
func Parse(data []byte, format Format) (*domain.WorkflowDefinition, error) {
	var wf domain.WorkflowDefinition
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&wf); err != nil {
			return nil, fmt.Errorf("invalid JSON workflow: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&wf); err != nil {
			return nil, fmt.Errorf("invalid YAML workflow: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown workflow format %q", format)
	}
	return &wf, nil
}
