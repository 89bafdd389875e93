// Package config reads and writes journey definition files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/journey/pkg/models"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a definition file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var ErrUnknownFormat = errors.New("unknown definition format")

// FormatFromPath picks the format from the file extension. Anything that is not .json is
// read as YAML, which also accepts JSON documents.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}

	return FormatYAML
}

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatYAML, "yml", "":
		return FormatYAML, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// LoadDefinition loads a journey definition from a YAML or JSON file.
func LoadDefinition(path string) (*models.JourneyDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file %s: %w", path, err)
	}

	return DecodeDefinition(data, FormatFromPath(path))
}

// DecodeDefinition decodes a definition. YAML documents go through JSON so that the
// definition's JSON field names and step payload decoding apply to both formats.
func DecodeDefinition(data []byte, format Format) (*models.JourneyDefinition, error) {
	if format == FormatYAML {
		var document any
		if err := yaml.Unmarshal(data, &document); err != nil {
			return nil, fmt.Errorf("failed to parse YAML definition: %w", err)
		}

		converted, err := json.Marshal(document)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML definition: %w", err)
		}

		data = converted
	}

	var definition models.JourneyDefinition
	if err := json.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}

	return &definition, nil
}

// EncodeDefinition writes definition to w in the given format.
func EncodeDefinition(w io.Writer, definition *models.JourneyDefinition, format Format) error {
	data, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}

	if format == FormatJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		return encoder.Encode(json.RawMessage(data))
	}

	var document any
	if err := json.Unmarshal(data, &document); err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(document); err != nil {
		return fmt.Errorf("failed to write YAML definition: %w", err)
	}

	return encoder.Close()
}
