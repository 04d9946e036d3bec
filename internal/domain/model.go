package domain

// ModelCategory groups models that share a parameter shape.
type ModelCategory string

const (
	CategoryImage ModelCategory = "image"
	CategoryVideo ModelCategory = "video"
	CategoryAudio ModelCategory = "audio"
)

// ParamType is the schema type of a model parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
)

// ParamSpec describes one accepted parameter.
type ParamSpec struct {
	Name     string    `yaml:"name" json:"name"`
	Type     ParamType `yaml:"type" json:"type"`
	Default  any       `yaml:"default,omitempty" json:"default,omitempty"`
	Required bool      `yaml:"required,omitempty" json:"required,omitempty"`
	Enum     []string  `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// PricingRule computes a price from normalized parameters. Base is charged
// unless an override matches; PerUnit multiplies the price by the integer
// value of the named parameter (e.g. duration in seconds).
type PricingRule struct {
	Base      int64             `yaml:"base" json:"base"`
	PerUnit   string            `yaml:"per_unit,omitempty" json:"per_unit,omitempty"`
	Overrides []PriceOverride   `yaml:"overrides,omitempty" json:"overrides,omitempty"`
	Labels    map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// PriceOverride replaces the base price when every listed parameter matches.
type PriceOverride struct {
	When  map[string]string `yaml:"when" json:"when"`
	Price int64             `yaml:"price" json:"price"`
}

// ModelSpec is the metadata of a generation model.
type ModelSpec struct {
	ID              string        `yaml:"id" json:"id"`
	Provider        string        `yaml:"provider,omitempty" json:"provider,omitempty"`
	Category        ModelCategory `yaml:"category" json:"category"`
	Title           string        `yaml:"title" json:"title"`
	Params          []ParamSpec   `yaml:"params" json:"params"`
	Pricing         PricingRule   `yaml:"pricing" json:"pricing"`
	FreeGenerations int           `yaml:"free_generations,omitempty" json:"free_generations,omitempty"`
}

// Param returns the schema for name.
func (m ModelSpec) Param(name string) (ParamSpec, bool) {
	for _, p := range m.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// ProviderModel returns the identifier sent to the provider.
func (m ModelSpec) ProviderModel() string {
	if m.Provider != "" {
		return m.Provider
	}
	return m.ID
}
