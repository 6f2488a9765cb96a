package session

import (
	"context"
	"strings"

	"promptcraft/internal/domain"
	"promptcraft/internal/media"
	"promptcraft/internal/tokenizer"
)

// Default step counts for plain and guided synthesis.
const (
	PlainSteps  = 4
	GuidedSteps = 28
)

func (o *Orchestrator) promptOp(action string) op {
	return op{action: action, state: StateRefiningPrompt, service: "prompt", timeout: o.deps.Timeouts.Prompt}
}

// setPromptLocked replaces the prompt and returns the prompt event.
func (o *Orchestrator) setPromptLocked(action, text string, report tokenizer.Report) []Event {
	o.prompt = text
	o.tokens = report
	r := report
	return []Event{{Type: EventPrompt, Action: action, Prompt: text, Tokens: &r}}
}

// GetPrompt refines seed into a prompt in the given style and makes it the
// session prompt.
func (o *Orchestrator) GetPrompt(ctx context.Context, seed string, style domain.Style) (string, error) {
	seed = strings.TrimSpace(seed)
	if style == "" {
		style = domain.DefaultStyle
	}
	var out string
	err := o.run(ctx, o.promptOp("get_prompt"), func() error {
		if seed == "" {
			return domain.Invalid("seed", domain.ErrEmptySeed)
		}
		return nil
	}, func(ctx context.Context) (func() []Event, error) {
		text, err := o.prompts.Refine(ctx, seed, style)
		if err != nil {
			return nil, err
		}
		report := o.measure(ctx, text)
		out = text
		return func() []Event {
			o.seed = seed
			o.style = style
			return o.setPromptLocked("get_prompt", text, report)
		}, nil
	})
	return out, err
}

// Shrink compresses the current prompt.
func (o *Orchestrator) Shrink(ctx context.Context) (string, error) {
	var current, out string
	err := o.run(ctx, o.promptOp("shrink"), func() error {
		if strings.TrimSpace(o.prompt) == "" {
			return domain.Invalid("prompt", domain.ErrEmptyPrompt)
		}
		current = o.prompt
		return nil
	}, func(ctx context.Context) (func() []Event, error) {
		text, err := o.prompts.Shrink(ctx, current)
		if err != nil {
			return nil, err
		}
		report := o.measure(ctx, text)
		out = text
		return func() []Event { return o.setPromptLocked("shrink", text, report) }, nil
	})
	return out, err
}

// AdaptCLIP rewrites the current prompt for the CLIP encoder. The session
// prompt is left as is.
func (o *Orchestrator) AdaptCLIP(ctx context.Context) (string, error) {
	var current, out string
	err := o.run(ctx, o.promptOp("clip"), func() error {
		if strings.TrimSpace(o.prompt) == "" {
			return domain.Invalid("prompt", domain.ErrEmptyPrompt)
		}
		current = o.prompt
		return nil
	}, func(ctx context.Context) (func() []Event, error) {
		text, err := o.prompts.AdaptForCLIP(ctx, current)
		if err != nil {
			return nil, err
		}
		out = text
		return nil, nil
	})
	return out, err
}

// ImprovePrompt folds critique into the current prompt. An empty critique
// uses the session's last critique.
func (o *Orchestrator) ImprovePrompt(ctx context.Context, critique string) (string, error) {
	critique = strings.TrimSpace(critique)
	var current, out string
	var style domain.Style
	err := o.run(ctx, o.promptOp("improve"), func() error {
		if strings.TrimSpace(o.prompt) == "" {
			return domain.Invalid("prompt", domain.ErrEmptyPrompt)
		}
		if critique == "" {
			critique = o.critique
		}
		if critique == "" {
			return domain.Invalid("critique", domain.ErrNoCritique)
		}
		current, style = o.prompt, o.style
		return nil
	}, func(ctx context.Context) (func() []Event, error) {
		text, err := o.prompts.Improve(ctx, critique, current, style)
		if err != nil {
			return nil, err
		}
		report := o.measure(ctx, text)
		out = text
		return func() []Event { return o.setPromptLocked("improve", text, report) }, nil
	})
	return out, err
}

// Generate renders the current prompt. guided conditions the render on the
// selected image. steps <= 0 picks the mode default.
func (o *Orchestrator) Generate(ctx context.Context, steps int, guided bool) ([]domain.ImageRef, error) {
	if steps <= 0 {
		steps = PlainSteps
		if guided {
			steps = GuidedSteps
		}
	}
	var prompt string
	var control domain.ImageRef
	var out []domain.ImageRef
	p := op{action: "generate", state: StateSynthesizing, service: "replicate", timeout: o.deps.Timeouts.Synth}
	err := o.run(ctx, p, func() error {
		if o.deps.Synth == nil {
			return domain.Local("generate", errNotConfigured("image synthesizer"))
		}
		if strings.TrimSpace(o.prompt) == "" {
			return domain.Invalid("prompt", domain.ErrEmptyPrompt)
		}
		if guided {
			cur, err := o.requireImageLocked()
			if err != nil {
				return err
			}
			control = cur
		}
		prompt = o.prompt
		return nil
	}, func(ctx context.Context) (func() []Event, error) {
		controlURL := ""
		if guided {
			u, err := o.controlURL(ctx, control)
			if err != nil {
				return nil, err
			}
			controlURL = u
		}
		refs, err := o.deps.Synth.Synthesize(ctx, prompt, steps, controlURL)
		if err != nil {
			return nil, err
		}
		if len(refs) == 0 {
			return nil, domain.Upstream("replicate", "generate", domain.ErrEmptyResult)
		}
		out = refs
		return func() []Event { return o.appendLocked("generate", refs...) }, nil
	})
	return out, err
}

// controlURL returns a URL the synthesizer can fetch. Local images are
// inlined as data URLs.
func (o *Orchestrator) controlURL(ctx context.Context, ref domain.ImageRef) (string, error) {
	if !ref.IsLocal() {
		return ref.URL, nil
	}
	if o.deps.Loader == nil {
		return "", domain.Local("generate", errNotConfigured("image loader"))
	}
	data, mime, err := o.deps.Loader.Load(ctx, ref)
	if err != nil {
		return "", err
	}
	return media.DataURL(mime, data), nil
}

func (o *Orchestrator) critiqueOp(action string) op {
	return op{action: action, state: StateCritiquing, service: "critic", timeout: o.deps.Timeouts.Critic}
}

// Critique reviews the selected image and stores the suggestions.
func (o *Orchestrator) Critique(ctx context.Context) (string, error) {
	var image domain.ImageRef
	var out string
	err := o.run(ctx, o.critiqueOp("critique"), func() error {
		if o.deps.Critic == nil {
			return domain.Local("critique", errNotConfigured("image critic"))
		}
		cur, err := o.requireImageLocked()
		image = cur
		return err
	}, func(ctx context.Context) (func() []Event, error) {
		text, err := o.deps.Critic.Critique(ctx, image)
		if err != nil {
			return nil, err
		}
		out = text
		return func() []Event {
			o.critique = text
			return []Event{{Type: EventCritique, Action: "critique", Text: text}}
		}, nil
	})
	return out, err
}

// CheckText asks whether text rendered in the selected image is legible.
func (o *Orchestrator) CheckText(ctx context.Context) (TextCheck, error) {
	var image domain.ImageRef
	var out TextCheck
	err := o.run(ctx, o.critiqueOp("check_text"), func() error {
		if o.deps.Critic == nil {
			return domain.Local("check_text", errNotConfigured("image critic"))
		}
		cur, err := o.requireImageLocked()
		image = cur
		return err
	}, func(ctx context.Context) (func() []Event, error) {
		ok, detail, err := o.deps.Critic.CheckText(ctx, image)
		if err != nil {
			return nil, err
		}
		out = TextCheck{OK: ok, Detail: detail}
		return nil, nil
	})
	return out, err
}

func (o *Orchestrator) refineOp(action string) op {
	return op{action: action, state: StateRefiningImage, service: "a1111", timeout: o.deps.Timeouts.Refiner}
}

// RefineImage runs img2img over the selected image. An empty prompt uses
// the session prompt.
func (o *Orchestrator) RefineImage(ctx context.Context, prompt string, faceRestoration bool) (domain.ImageRef, error) {
	prompt = strings.TrimSpace(prompt)
	var source, out domain.ImageRef
	err := o.run(ctx, o.refineOp("refine"), func() error {
		if o.deps.Refiner == nil {
			return domain.Local("refine", errNotConfigured("image refiner"))
		}
		cur, err := o.requireImageLocked()
		if err != nil {
			return err
		}
		if prompt == "" {
			prompt = strings.TrimSpace(o.prompt)
		}
		if prompt == "" {
			return domain.Invalid("prompt", domain.ErrEmptyPrompt)
		}
		source = cur
		return nil
	}, func(ctx context.Context) (func() []Event, error) {
		ref, err := o.deps.Refiner.RefineImage(ctx, o.id, prompt, source, faceRestoration)
		if err != nil {
			return nil, err
		}
		out = ref
		return func() []Event { return o.appendLocked("refine", ref) }, nil
	})
	return out, err
}

// Upscale runs the 4x upscaler over the selected image.
func (o *Orchestrator) Upscale(ctx context.Context) (domain.ImageRef, error) {
	var source, out domain.ImageRef
	err := o.run(ctx, o.refineOp("upscale"), func() error {
		if o.deps.Refiner == nil {
			return domain.Local("upscale", errNotConfigured("image refiner"))
		}
		cur, err := o.requireImageLocked()
		source = cur
		return err
	}, func(ctx context.Context) (func() []Event, error) {
		ref, err := o.deps.Refiner.Upscale(ctx, o.id, source)
		if err != nil {
			return nil, err
		}
		out = ref
		return func() []Event { return o.appendLocked("upscale", ref) }, nil
	})
	return out, err
}

// RenderSDXL renders with the local SDXL pipeline. control conditions the
// render on the selected image.
func (o *Orchestrator) RenderSDXL(ctx context.Context, prompt string, control bool) (domain.ImageRef, error) {
	prompt = strings.TrimSpace(prompt)
	var controlRef *domain.ImageRef
	var out domain.ImageRef
	err := o.run(ctx, o.refineOp("sdxl"), func() error {
		if o.deps.Refiner == nil {
			return domain.Local("sdxl", errNotConfigured("image refiner"))
		}
		if prompt == "" {
			prompt = strings.TrimSpace(o.prompt)
		}
		if prompt == "" {
			return domain.Invalid("prompt", domain.ErrEmptyPrompt)
		}
		if control {
			cur, err := o.requireImageLocked()
			if err != nil {
				return err
			}
			controlRef = &cur
		}
		return nil
	}, func(ctx context.Context) (func() []Event, error) {
		ref, err := o.deps.Refiner.Txt2Img(ctx, o.id, prompt, controlRef)
		if err != nil {
			return nil, err
		}
		out = ref
		return func() []Event { return o.appendLocked("sdxl", ref) }, nil
	})
	return out, err
}

// SetPrompt replaces the prompt with a user edit.
func (o *Orchestrator) SetPrompt(ctx context.Context, text string) (tokenizer.Report, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tokenizer.Report{}, domain.Invalid("prompt", domain.ErrEmptyPrompt)
	}
	if o.Pending() {
		return tokenizer.Report{}, domain.ErrBusy
	}
	report := o.measure(ctx, text)

	o.mu.Lock()
	if err := o.usableLocked(); err != nil {
		o.mu.Unlock()
		return tokenizer.Report{}, err
	}
	evs := o.setPromptLocked("edit", text, report)
	o.updatedAt = o.now()
	o.mu.Unlock()

	for _, ev := range evs {
		o.publish(ev)
	}
	return report, nil
}

// Select makes history[index] the image critique and refinement act on.
func (o *Orchestrator) Select(index int) error {
	o.mu.Lock()
	if err := o.usableLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	if index < 0 || index >= len(o.history) {
		o.mu.Unlock()
		return domain.Invalid("index", domain.ErrBadSelection)
	}
	o.selected = index
	o.updatedAt = o.now()
	img := o.history[index]
	o.mu.Unlock()

	o.publish(Event{Type: EventSelection, Action: "select", Image: &img, Index: index})
	return nil
}

type notConfiguredError string

func (e notConfiguredError) Error() string { return string(e) + " is not configured" }

func errNotConfigured(what string) error { return notConfiguredError(what) }
