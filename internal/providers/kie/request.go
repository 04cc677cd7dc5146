package kie

import (
	"fmt"
	"strings"

	"annexbot/internal/domain"
)

// taskRequest is the createTask payload. Input is one of the per-family
// input shapes below; each model family speaks its own dialect.
type taskRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type nanoBananaInput struct {
	Prompt       string   `json:"prompt"`
	ImageURLs    []string `json:"image_urls,omitempty"`
	OutputFormat string   `json:"output_format"`
	ImageSize    string   `json:"image_size"`
}

type nanoBananaProInput struct {
	Prompt       string   `json:"prompt"`
	ImageInput   []string `json:"image_input"`
	AspectRatio  string   `json:"aspect_ratio"`
	Resolution   string   `json:"resolution"`
	OutputFormat string   `json:"output_format"`
}

type fluxInput struct {
	Prompt      string   `json:"prompt"`
	InputURLs   []string `json:"input_urls,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	Resolution  string   `json:"resolution,omitempty"`
}

type ideogramInput struct {
	Prompt             string   `json:"prompt"`
	RenderingSpeed     string   `json:"rendering_speed,omitempty"`
	Style              string   `json:"style,omitempty"`
	ImageSize          string   `json:"image_size,omitempty"`
	NumImages          string   `json:"num_images,omitempty"`
	ReferenceImageURLs []string `json:"reference_image_urls,omitempty"`
}

// buildTaskRequest maps a job onto the model family's wire dialect. A base
// nano-banana job with inputs is promoted to the edit variant, which is the
// only one of the pair that accepts reference images.
func buildTaskRequest(job domain.Job, inputURLs []string) (taskRequest, error) {
	settings := job.Settings
	switch job.Model.Family {
	case domain.FamilyNanoBanana:
		model := job.Model.ID
		if model == domain.ModelNanoBanana && len(inputURLs) > 0 {
			model = domain.ModelNanoBananaEdit
		}
		return taskRequest{
			Model: model,
			Input: nanoBananaInput{
				Prompt:       job.Prompt,
				ImageURLs:    inputURLs,
				OutputFormat: mapFormat(settings.OutputFormat),
				ImageSize:    mapAspectRatio(settings.AspectRatio),
			},
		}, nil
	case domain.FamilyNanoBananaPro:
		return taskRequest{
			Model: job.Model.ID,
			Input: nanoBananaProInput{
				Prompt:       job.Prompt,
				ImageInput:   inputURLs,
				AspectRatio:  mapAspectRatio(settings.AspectRatio),
				Resolution:   mapResolution(settings.Resolution),
				OutputFormat: mapFormat(settings.OutputFormat),
			},
		}, nil
	case domain.FamilyFlux:
		return taskRequest{
			Model: job.Model.ID,
			Input: fluxInput{
				Prompt:      job.Prompt,
				InputURLs:   inputURLs,
				AspectRatio: mapAspectRatio(settings.AspectRatio),
				Resolution:  mapResolution(settings.Resolution),
			},
		}, nil
	case domain.FamilyIdeogram:
		return taskRequest{
			Model: job.Model.ID,
			Input: ideogramInput{
				Prompt:             job.Prompt,
				RenderingSpeed:     "BALANCED",
				ImageSize:          mapAspectRatio(settings.AspectRatio),
				NumImages:          "1",
				ReferenceImageURLs: inputURLs,
			},
		}, nil
	}
	return taskRequest{}, fmt.Errorf("kie: unsupported model family %q", job.Model.Family)
}

// mapResolution turns the stored "1k"/"2k"/"4k" value into the provider's
// uppercase form, defaulting to 2K.
func mapResolution(res string) string {
	if strings.TrimSpace(res) == "" {
		return "2K"
	}
	return strings.ToUpper(res)
}

// mapFormat turns the stored output format into a concrete file format;
// "auto" means png.
func mapFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" || f == "auto" {
		return "png"
	}
	return f
}

// mapAspectRatio resolves the stored aspect ratio; "auto" collapses to the
// provider's square default.
func mapAspectRatio(ratio string) string {
	r := strings.ToLower(strings.TrimSpace(ratio))
	if r == "" {
		return "auto"
	}
	if r == "auto" {
		return "1:1"
	}
	return r
}
