package basis

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrRagged is returned when basis vectors do not share one length.
var ErrRagged = errors.New("basis vectors have differing lengths")

// File is the on-disk basis format. JSON files parse as well, being valid YAML.
type File struct {
	Vectors [][]float32 `yaml:"vectors" json:"vectors"`
}

// LoadFile reads a basis file and returns its vectors.
func LoadFile(path string) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read basis %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse basis %s: %w", path, err)
	}
	if _, err := dimension(f.Vectors); err != nil {
		return nil, fmt.Errorf("basis %s: %w", path, err)
	}
	return f.Vectors, nil
}

// WriteFile stores vectors at path in YAML form.
func WriteFile(path string, vectors [][]float32) error {
	data, err := yaml.Marshal(File{Vectors: vectors})
	if err != nil {
		return fmt.Errorf("marshal basis: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write basis %s: %w", path, err)
	}
	return nil
}

// dimension returns the shared vector length, or 0 for an empty basis.
func dimension(vectors [][]float32) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("%w: vector %d has %d, want %d", ErrRagged, i, len(v), dim)
		}
	}
	return dim, nil
}
