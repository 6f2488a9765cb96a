package prompt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"promptcraft/internal/domain"
)

// Refiner turns seed ideas into image-generation prompts over a
// conversation context owned by the refiner. One Refiner serves one session.
type Refiner struct {
	completer Completer
	templates Templates
	retention Retention

	mu   sync.Mutex
	conv *Conversation
}

// Options configures a Refiner.
type Options struct {
	Templates Templates
	Retention Retention
}

func NewRefiner(completer Completer, opts Options) *Refiner {
	tpl := opts.Templates
	if tpl.System == "" {
		tpl = DefaultTemplates()
	}
	retention := opts.Retention
	if retention == "" {
		retention = RetainConversation
	}
	return &Refiner{
		completer: completer,
		templates: tpl,
		retention: retention,
		conv:      NewConversation(tpl.System),
	}
}

// Retention reports the context-retention policy.
func (r *Refiner) Retention() Retention { return r.retention }

// Refine expands seed into a refined prompt for style.
func (r *Refiner) Refine(ctx context.Context, seed string, style domain.Style) (string, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return "", domain.Invalid("seed", domain.ErrEmptySeed)
	}
	return r.exchange(ctx, r.withStyle(seed, style))
}

// Shrink asks for a shorter wording of text with the same meaning.
func (r *Refiner) Shrink(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.Invalid("prompt", domain.ErrEmptyPrompt)
	}
	return r.exchange(ctx, fmt.Sprintf(r.templates.Shrink, text))
}

// Improve folds critique suggestions into the current prompt.
func (r *Refiner) Improve(ctx context.Context, critique, current string, style domain.Style) (string, error) {
	current = strings.TrimSpace(current)
	if current == "" {
		return "", domain.Invalid("prompt", domain.ErrEmptyPrompt)
	}
	msg := fmt.Sprintf(r.templates.Improve, strings.TrimSpace(critique), current)
	return r.exchange(ctx, r.withStyle(msg, style))
}

// AdaptForCLIP reformats a T5-oriented prompt for a CLIP text encoder. It
// runs in its own single-turn context and never touches the shared one.
func (r *Refiner) AdaptForCLIP(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.Invalid("prompt", domain.ErrEmptyPrompt)
	}
	return r.completer.Complete(ctx, []Message{
		{Role: RoleSystem, Content: r.templates.CLIPSystem},
		{Role: RoleUser, Content: text},
	})
}

// History returns a copy of the shared conversation context.
func (r *Refiner) History() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conv.Messages()
}

// exchange sends content as a user turn. Under RetainConversation the
// exchange is committed only after a successful reply.
func (r *Refiner) exchange(ctx context.Context, content string) (string, error) {
	user := Message{Role: RoleUser, Content: content}

	r.mu.Lock()
	var messages []Message
	if r.retention == FreshPerCall {
		messages = []Message{{Role: RoleSystem, Content: r.templates.System}, user}
	} else {
		messages = r.conv.With(user)
	}
	r.mu.Unlock()

	reply, err := r.completer.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", domain.Upstream("chat", "reply", domain.ErrEmptyResult)
	}

	if r.retention == RetainConversation {
		r.mu.Lock()
		r.conv.Commit(user, Message{Role: RoleAssistant, Content: reply})
		r.mu.Unlock()
	}
	return reply, nil
}

func (r *Refiner) withStyle(text string, style domain.Style) string {
	if style == "" {
		return text
	}
	return text + "\n" + fmt.Sprintf(r.templates.StyleLine, string(style))
}

// NewFactory returns a constructor building one Refiner per session over a
// shared completer.
func NewFactory(completer Completer, opts Options) func() *Refiner {
	return func() *Refiner {
		return NewRefiner(completer, opts)
	}
}
