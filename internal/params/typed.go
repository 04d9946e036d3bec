package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"genbot/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Typed is the category-specific view of normalized parameters.
type Typed interface {
	Category() domain.ModelCategory
}

// ImageParams are accepted by image models.
type ImageParams struct {
	Prompt       string `json:"prompt" validate:"required,max=5000"`
	AspectRatio  string `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=1:1 16:9 9:16 4:3 3:4 3:2 2:3 21:9 auto"`
	Resolution   string `json:"resolution,omitempty" validate:"omitempty,oneof=1K 2K 4K"`
	OutputFormat string `json:"output_format,omitempty" validate:"omitempty,oneof=png jpeg jpg webp"`
	NumImages    int    `json:"num_images,omitempty" validate:"gte=0,lte=4"`
	ImageURL     string `json:"image_url,omitempty" validate:"omitempty,url"`
	Seed         int64  `json:"seed,omitempty" validate:"gte=0"`
}

func (ImageParams) Category() domain.ModelCategory { return domain.CategoryImage }

// VideoParams are accepted by video models.
type VideoParams struct {
	Prompt      string `json:"prompt" validate:"required,max=5000"`
	Duration    int    `json:"duration,omitempty" validate:"gte=0,lte=60"`
	AspectRatio string `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=16:9 9:16 1:1 4:3 3:4"`
	Resolution  string `json:"resolution,omitempty" validate:"omitempty,oneof=480p 720p 1080p"`
	ImageURL    string `json:"image_url,omitempty" validate:"omitempty,url"`
	Sound       bool   `json:"sound,omitempty"`
}

func (VideoParams) Category() domain.ModelCategory { return domain.CategoryVideo }

// AudioParams are accepted by audio models.
type AudioParams struct {
	Prompt       string `json:"prompt" validate:"required,max=3000"`
	Duration     int    `json:"duration,omitempty" validate:"gte=0,lte=600"`
	Voice        string `json:"voice,omitempty" validate:"omitempty,max=64"`
	Instrumental bool   `json:"instrumental,omitempty"`
}

func (AudioParams) Category() domain.ModelCategory { return domain.CategoryAudio }

// Decode converts normalized parameters into the typed struct of the model
// category and validates it.
func Decode(category domain.ModelCategory, normalized map[string]any) (Typed, error) {
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("params: encode: %w", err)
	}

	var typed Typed
	switch category {
	case domain.CategoryImage:
		var p ImageParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, decodeError(err)
		}
		typed = p
	case domain.CategoryVideo:
		var p VideoParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, decodeError(err)
		}
		typed = p
	case domain.CategoryAudio:
		var p AudioParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, decodeError(err)
		}
		typed = p
	default:
		return nil, &FieldError{Field: "category", Reason: fmt.Sprintf("unsupported category %q", category)}
	}

	if err := validate.Struct(typed); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, &FieldError{Field: fe.Field(), Reason: fmt.Sprintf("failed %s validation", fe.Tag())}
		}
		return nil, &FieldError{Field: "params", Reason: err.Error()}
	}
	return typed, nil
}

func decodeError(err error) error {
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) {
		return &FieldError{Field: ute.Field, Reason: "has the wrong type"}
	}
	return &FieldError{Field: "params", Reason: "malformed"}
}
