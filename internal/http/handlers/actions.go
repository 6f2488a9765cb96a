package handlers

import (
	"context"
	"net/http"
	"time"

	"promptcraft/internal/domain/jsoncfg"
	"promptcraft/internal/session"
	"promptcraft/internal/tokenizer"
)

// writeMargin covers the work around a collaborator call: token counting,
// commit and encoding the reply.
const writeMargin = 15 * time.Second

// actionContext detaches the session operation from the client connection
// and moves the write deadline past limit, the timeout of the collaborator
// the action calls, so the reply outlives the server's WriteTimeout.
func (a *App) actionContext(w http.ResponseWriter, r *http.Request, limit time.Duration) context.Context {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(limit + writeMargin)); err != nil {
		a.Logger.Debug().Err(err).Msg("http: write deadline not adjustable")
	}
	return context.WithoutCancel(r.Context())
}

type promptResponse struct {
	Prompt string            `json:"prompt"`
	Tokens *tokenizer.Report `json:"tokens,omitempty"`
}

func (a *App) promptReply(w http.ResponseWriter, o *session.Orchestrator, text string) {
	snap := o.Snapshot()
	a.json(w, http.StatusOK, promptResponse{Prompt: text, Tokens: &snap.Tokens})
}

func (a *App) GetPrompt(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	var req jsoncfg.PromptRequest
	if !a.decode(w, r, &req) {
		return
	}
	style, err := req.Validate()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	text, err := o.GetPrompt(a.actionContext(w, r, a.Sessions.Timeouts().Prompt), req.Seed, style)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.promptReply(w, o, text)
}

func (a *App) EditPrompt(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	var req jsoncfg.PromptEdit
	if !a.decode(w, r, &req) {
		return
	}
	report, err := o.SetPrompt(r.Context(), req.Prompt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, promptResponse{Prompt: o.Snapshot().Prompt, Tokens: &report})
}

func (a *App) Shrink(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	text, err := o.Shrink(a.actionContext(w, r, a.Sessions.Timeouts().Prompt))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.promptReply(w, o, text)
}

func (a *App) AdaptCLIP(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	text, err := o.AdaptCLIP(a.actionContext(w, r, a.Sessions.Timeouts().Prompt))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, promptResponse{Prompt: text})
}

func (a *App) Improve(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	var req jsoncfg.CritiqueRequest
	if !a.decode(w, r, &req) {
		return
	}
	text, err := o.ImprovePrompt(a.actionContext(w, r, a.Sessions.Timeouts().Prompt), req.Critique)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.promptReply(w, o, text)
}

func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	var req jsoncfg.GenerateRequest
	if !a.decode(w, r, &req) {
		return
	}
	req.Normalize()
	refs, err := o.Generate(a.actionContext(w, r, a.Sessions.Timeouts().Synth), req.Steps, req.Guided)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"images": refs, "session": o.Snapshot()})
}

func (a *App) Critique(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	text, err := o.Critique(a.actionContext(w, r, a.Sessions.Timeouts().Critic))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"critique": text})
}

func (a *App) CheckText(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	res, err := o.CheckText(a.actionContext(w, r, a.Sessions.Timeouts().Critic))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

func (a *App) Refine(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	var req jsoncfg.RefineRequest
	if !a.decode(w, r, &req) {
		return
	}
	ref, err := o.RefineImage(a.actionContext(w, r, a.Sessions.Timeouts().Refiner), req.Prompt, req.Face())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"image": ref, "session": o.Snapshot()})
}

func (a *App) Upscale(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	ref, err := o.Upscale(a.actionContext(w, r, a.Sessions.Timeouts().Refiner))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"image": ref, "session": o.Snapshot()})
}

func (a *App) RenderSDXL(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	var req jsoncfg.SDXLRequest
	if !a.decode(w, r, &req) {
		return
	}
	ref, err := o.RenderSDXL(a.actionContext(w, r, a.Sessions.Timeouts().Refiner), req.Prompt, req.Control)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"image": ref, "session": o.Snapshot()})
}
