// Package catalog loads model metadata from a YAML document.
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"genbot/internal/domain"
)

type document struct {
	Models []domain.ModelSpec `yaml:"models"`
}

// Catalog is an immutable, in-memory model catalog.
type Catalog struct {
	models map[string]domain.ModelSpec
	order  []string
}

var _ domain.ModelCatalog = (*Catalog)(nil)

// Load reads and parses the YAML catalog at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog. Unknown keys are rejected so typos in the
// catalog surface at startup.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return New(doc.Models...)
}

// New builds a catalog from already-decoded specs.
func New(specs ...domain.ModelSpec) (*Catalog, error) {
	c := &Catalog{models: make(map[string]domain.ModelSpec, len(specs))}
	for _, m := range specs {
		if err := check(m); err != nil {
			return nil, err
		}
		if _, dup := c.models[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate model %q", m.ID)
		}
		c.models[m.ID] = m
		c.order = append(c.order, m.ID)
	}
	sort.Strings(c.order)
	return c, nil
}

func check(m domain.ModelSpec) error {
	if m.ID == "" {
		return fmt.Errorf("catalog: model id is required")
	}
	switch m.Category {
	case domain.CategoryImage, domain.CategoryVideo, domain.CategoryAudio:
	default:
		return fmt.Errorf("catalog: model %q has unsupported category %q", m.ID, m.Category)
	}
	if m.Pricing.Base < 0 {
		return fmt.Errorf("catalog: model %q has a negative price", m.ID)
	}
	seen := make(map[string]struct{}, len(m.Params))
	for _, p := range m.Params {
		if p.Name == "" {
			return fmt.Errorf("catalog: model %q has a parameter without a name", m.ID)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("catalog: model %q declares %q twice", m.ID, p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Type {
		case domain.ParamString, domain.ParamInt, domain.ParamFloat, domain.ParamBool:
		default:
			return fmt.Errorf("catalog: model %q parameter %q has unsupported type %q", m.ID, p.Name, p.Type)
		}
	}
	return nil
}

// Get returns the model or domain.ErrUnknownModel.
func (c *Catalog) Get(modelID string) (domain.ModelSpec, error) {
	m, ok := c.models[modelID]
	if !ok {
		return domain.ModelSpec{}, fmt.Errorf("%w: %s", domain.ErrUnknownModel, modelID)
	}
	return m, nil
}

// List returns every model ordered by id.
func (c *Catalog) List() []domain.ModelSpec {
	out := make([]domain.ModelSpec, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.models[id])
	}
	return out
}
