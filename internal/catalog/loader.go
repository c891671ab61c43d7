package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	yaml "go.yaml.in/yaml/v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Parse decodes a YAML catalog. Unknown keys are rejected so typos surface
// at load time instead of as missing data.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads and parses a catalog file from fs.
func LoadFile(fs afero.Fs, path string) (*Catalog, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
