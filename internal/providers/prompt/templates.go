package prompt

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Templates holds the instruction text sent to the chat model. Zero fields
// fall back to the defaults.
type Templates struct {
	System     string `yaml:"system"`
	Shrink     string `yaml:"shrink"`
	CLIPSystem string `yaml:"clip_system"`
	Improve    string `yaml:"improve"`
	StyleLine  string `yaml:"style_line"`
}

// DefaultTemplates returns the built-in instruction set.
func DefaultTemplates() Templates {
	return Templates{
		System: "Your task is to provide prompts optimized for generating AI images. Follow these rules:\n\n" +
			"- Use clear well-structured language. Avoid overly long convoluted sentences. Stick to natural clear grammar with a focus on the meaning of the sentence.\n" +
			"- Use descriptive language but don't overload the prompt with excessive adjectives or details. Make sure every prompt serves to visualize and contextualize the scene.\n" +
			"- Avoid adding irrelevant or conflicting details that may distract from the main focus.\n" +
			"- Specify the style or medium.\n" +
			"- Focus on important scene elements.\n" +
			"- Include context or actions that might occur in the scene.",
		Shrink: "reduce the number of words in the following prompt while retaining the meaning. Prompt: %s",
		CLIPSystem: "Your task is to convert a stable diffusion prompt that has been optimized for t5 " +
			"encoding into a prompt that has been optimized for CLIP encoding. Only provide the new " +
			"prompt in your response.\n" +
			"Example:\n" +
			"Grey car park, dog under car, wet fur, barking, rain, smeared wheels, slick pavement",
		Improve:   "Use the following improvements to make improvements to the following prompt:\nImprovements: %s \n Prompt:%s",
		StyleLine: "style: %s",
	}
}

// LoadTemplates reads YAML overrides from path on top of the defaults. An
// empty path returns the defaults.
func LoadTemplates(path string) (Templates, error) {
	tpl := DefaultTemplates()
	if strings.TrimSpace(path) == "" {
		return tpl, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return tpl, fmt.Errorf("prompt: read templates: %w", err)
	}
	var override Templates
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return tpl, fmt.Errorf("prompt: parse templates: %w", err)
	}
	tpl = tpl.merge(override)
	if err := tpl.Validate(); err != nil {
		return DefaultTemplates(), err
	}
	return tpl, nil
}

// Validate checks that the format verbs the refiner relies on are present.
func (t Templates) Validate() error {
	if strings.Count(t.Shrink, "%s") != 1 {
		return errors.New("prompt: shrink template needs exactly one %s")
	}
	if strings.Count(t.Improve, "%s") != 2 {
		return errors.New("prompt: improve template needs exactly two %s")
	}
	if strings.Count(t.StyleLine, "%s") != 1 {
		return errors.New("prompt: style_line template needs exactly one %s")
	}
	return nil
}

func (t Templates) merge(o Templates) Templates {
	if o.System != "" {
		t.System = o.System
	}
	if o.Shrink != "" {
		t.Shrink = o.Shrink
	}
	if o.CLIPSystem != "" {
		t.CLIPSystem = o.CLIPSystem
	}
	if o.Improve != "" {
		t.Improve = o.Improve
	}
	if o.StyleLine != "" {
		t.StyleLine = o.StyleLine
	}
	return t
}
