// Package job defines the parameters of an image(s)-to-video generation job
// and the validation that must pass before a job may be submitted.
package job

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Model is the generation model tier code expected by the service.
type Model string

const (
	// ModelPremium is the highest quality tier.
	ModelPremium Model = "0"
	// ModelStandard is the mid tier.
	ModelStandard Model = "1"
	// ModelBasic is the entry tier.
	ModelBasic Model = "2"
	// ModelTrial is the trial tier.
	ModelTrial Model = "3"
)

var modelNames = map[string]Model{
	"premium":  ModelPremium,
	"standard": ModelStandard,
	"basic":    ModelBasic,
	"trial":    ModelTrial,
}

// String returns the tier name, or the raw code if unknown.
func (m Model) String() string {
	for name, code := range modelNames {
		if code == m {
			return name
		}
	}
	return string(m)
}

// Static errors for parameter validation.
var (
	// ErrEmptyPrompt is returned when the prompt is empty or whitespace-only.
	ErrEmptyPrompt = errors.New("job: prompt is required")
	// ErrNoImages is returned when no image has been selected.
	ErrNoImages = errors.New("job: at least one image is required")
	// ErrInvalidParameter is returned when a setting is outside its allowed set.
	ErrInvalidParameter = errors.New("job: invalid parameter")
	// ErrUnknownModel is returned by ParseModel for unrecognized input.
	ErrUnknownModel = errors.New("job: unknown model")
)

// Allowed values for the enumerated settings.
var (
	AllowedDurations    = []int{4, 8, 10}
	AllowedAspectRatios = []string{"16:9", "9:16", "4:3", "3:4", "1:1"}
	AllowedResolutions  = []string{"360p", "720p", "1080p"}
)

// Parameters is an immutable snapshot of the user's generation settings.
// It is passed by value; methods return modified copies.
type Parameters struct {
	// Prompt describes the video to generate.
	Prompt string
	// Model is the tier code.
	Model Model `validate:"oneof=0 1 2 3"`
	// DurationSeconds is the clip length.
	DurationSeconds int `validate:"oneof=4 8 10"`
	// AspectRatio is the output frame ratio, e.g. "16:9".
	AspectRatio string `validate:"oneof=16:9 9:16 4:3 3:4 1:1"`
	// Resolution is the output resolution, e.g. "720p".
	Resolution string `validate:"oneof=360p 720p 1080p"`
	// MuteAudio turns off the generated audio track. The zero value keeps
	// audio on.
	MuteAudio bool
	// BackgroundMusic requests a background music track.
	BackgroundMusic bool
	// Seed is the random seed; 0 lets the service choose.
	Seed int64
}

// Defaults returns the configuration table used for absent settings.
func Defaults() Parameters {
	return Parameters{
		Model:           ModelPremium,
		DurationSeconds: 4,
		AspectRatio:     "16:9",
		Resolution:      "360p",
	}
}

// WithDefaults returns a copy with zero-valued enumerated settings filled
// from Defaults. Prompt, flags and seed are left as given.
func (p Parameters) WithDefaults() Parameters {
	d := Defaults()
	if p.Model == "" {
		p.Model = d.Model
	}
	if p.DurationSeconds == 0 {
		p.DurationSeconds = d.DurationSeconds
	}
	if p.AspectRatio == "" {
		p.AspectRatio = d.AspectRatio
	}
	if p.Resolution == "" {
		p.Resolution = d.Resolution
	}
	return p
}

var validate = validator.New()

// Validate checks p before submission of a job carrying imageCount images.
// It returns the defaulted copy with a trimmed prompt. It performs no I/O.
func Validate(p Parameters, imageCount int) (Parameters, error) {
	p.Prompt = strings.TrimSpace(p.Prompt)
	if p.Prompt == "" {
		return Parameters{}, ErrEmptyPrompt
	}
	if imageCount <= 0 {
		return Parameters{}, ErrNoImages
	}

	p = p.WithDefaults()
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return Parameters{}, fmt.Errorf("%w: %s", ErrInvalidParameter, describe(verrs))
		}
		return Parameters{}, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return p, nil
}

// IsValidationError reports whether err is one of the validation sentinels.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyPrompt) ||
		errors.Is(err, ErrNoImages) ||
		errors.Is(err, ErrInvalidParameter)
}

// ParseModel accepts a tier code ("0".."3") or a tier name.
func ParseModel(s string) (Model, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if m, ok := modelNames[s]; ok {
		return m, nil
	}
	switch Model(s) {
	case ModelPremium, ModelStandard, ModelBasic, ModelTrial:
		return Model(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, s)
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s=%v not in [%s]", fe.Field(), fe.Value(), fe.Param()))
	}
	return strings.Join(parts, "; ")
}

// DurationString renders the duration for log output, e.g. "4s". The wire
// request carries the bare integer.
func (p Parameters) DurationString() string {
	return strconv.Itoa(p.DurationSeconds) + "s"
}
