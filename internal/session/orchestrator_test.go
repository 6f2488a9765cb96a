package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"promptcraft/internal/domain"
)

func TestCraftingRoundTrip(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	prompt, err := h.o.GetPrompt(ctx, "a red fox in snow", domain.StyleOilPainting)
	if err != nil {
		t.Fatalf("GetPrompt returned error: %v", err)
	}
	if prompt != "oil painting of a red fox in snow, golden hour" {
		t.Fatalf("prompt = %q", prompt)
	}
	refs, err := h.o.Generate(ctx, 0, false)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(refs) != 1 || h.synth.steps[0] != PlainSteps {
		t.Fatalf("refs = %+v steps = %v", refs, h.synth.steps)
	}
	critique, err := h.o.Critique(ctx)
	if err != nil {
		t.Fatalf("Critique returned error: %v", err)
	}
	if h.critic.images[0].URL != refs[0].URL {
		t.Fatalf("critique image = %q, want %q", h.critic.images[0].URL, refs[0].URL)
	}
	improved, err := h.o.ImprovePrompt(ctx, "")
	if err != nil {
		t.Fatalf("ImprovePrompt returned error: %v", err)
	}
	if !strings.HasSuffix(improved, ", improved") || h.prompts.calls[1] != "improve:"+critique {
		t.Fatalf("improved = %q calls = %v", improved, h.prompts.calls)
	}
	refined, err := h.o.RefineImage(ctx, "", true)
	if err != nil {
		t.Fatalf("RefineImage returned error: %v", err)
	}
	if h.refiner.calls[0] != "refine:"+improved || !h.refiner.faces[0] || h.refiner.sources[0].URL != refs[0].URL {
		t.Fatalf("refiner calls = %v sources = %v", h.refiner.calls, h.refiner.sources)
	}
	upscaled, err := h.o.Upscale(ctx)
	if err != nil {
		t.Fatalf("Upscale returned error: %v", err)
	}
	if h.refiner.sources[1].URL != refined.URL {
		t.Fatalf("upscale source = %q, want %q", h.refiner.sources[1].URL, refined.URL)
	}

	snap := h.o.Snapshot()
	if snap.State != StateIdle || len(snap.History) != 3 || snap.Selected != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Current == nil || snap.Current.URL != upscaled.URL {
		t.Fatalf("current = %+v, want %q", snap.Current, upscaled.URL)
	}
	if snap.Prompt != improved || snap.Seed != "a red fox in snow" || snap.Style != domain.StyleOilPainting || snap.Critique != critique {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := len(h.usage.events); got != 6 {
		t.Fatalf("usage events = %d, want 6", got)
	}
}

func TestStateEventsBracketEachOperation(t *testing.T) {
	h := newHarness()
	if _, err := h.o.GetPrompt(context.Background(), "a fox", ""); err != nil {
		t.Fatalf("GetPrompt returned error: %v", err)
	}
	states := h.log.ofType(EventState)
	if len(states) != 2 || states[0].State != StateRefiningPrompt || states[1].State != StateIdle {
		t.Fatalf("state events = %+v", states)
	}
	prompts := h.log.ofType(EventPrompt)
	if len(prompts) != 1 || prompts[0].Tokens == nil || prompts[0].Tokens.Count == 0 || prompts[0].Tokens.Budget != 256 {
		t.Fatalf("prompt events = %+v", prompts)
	}
	if prompts[0].SessionID != "s1" {
		t.Fatalf("session id = %q", prompts[0].SessionID)
	}
}

func TestPreconditionsFailBeforeAnyCall(t *testing.T) {
	tests := []struct {
		name string
		do   func(o *Orchestrator) error
		want error
	}{
		{"empty seed", func(o *Orchestrator) error { _, err := o.GetPrompt(context.Background(), "  ", ""); return err }, domain.ErrEmptySeed},
		{"generate without prompt", func(o *Orchestrator) error { _, err := o.Generate(context.Background(), 4, false); return err }, domain.ErrEmptyPrompt},
		{"shrink without prompt", func(o *Orchestrator) error { _, err := o.Shrink(context.Background()); return err }, domain.ErrEmptyPrompt},
		{"clip without prompt", func(o *Orchestrator) error { _, err := o.AdaptCLIP(context.Background()); return err }, domain.ErrEmptyPrompt},
		{"improve without prompt", func(o *Orchestrator) error { _, err := o.ImprovePrompt(context.Background(), "x"); return err }, domain.ErrEmptyPrompt},
		{"critique without images", func(o *Orchestrator) error { _, err := o.Critique(context.Background()); return err }, domain.ErrNoImages},
		{"check text without images", func(o *Orchestrator) error { _, err := o.CheckText(context.Background()); return err }, domain.ErrNoImages},
		{"refine without images", func(o *Orchestrator) error { _, err := o.RefineImage(context.Background(), "p", true); return err }, domain.ErrNoImages},
		{"upscale without images", func(o *Orchestrator) error { _, err := o.Upscale(context.Background()); return err }, domain.ErrNoImages},
		{"sdxl without prompt", func(o *Orchestrator) error { _, err := o.RenderSDXL(context.Background(), "", false); return err }, domain.ErrEmptyPrompt},
		{"select out of range", func(o *Orchestrator) error { return o.Select(0) }, domain.ErrBadSelection},
		{"empty edit", func(o *Orchestrator) error { _, err := o.SetPrompt(context.Background(), " "); return err }, domain.ErrEmptyPrompt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			err := tt.do(h.o)
			if !domain.IsValidation(err) || !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want ValidationError(%v)", err, tt.want)
			}
			if h.calls() != 0 {
				t.Fatalf("collaborator calls = %d, want 0", h.calls())
			}
			if h.o.Snapshot().State != StateIdle || len(h.log.ofType(EventState)) != 0 {
				t.Fatal("validation failure must not change state")
			}
		})
	}
}

func TestGuidedGenerateNeedsHistory(t *testing.T) {
	h := newHarness()
	if _, err := h.o.SetPrompt(context.Background(), "a fox"); err != nil {
		t.Fatalf("SetPrompt returned error: %v", err)
	}
	_, err := h.o.Generate(context.Background(), 0, true)
	if !errors.Is(err, domain.ErrNoImages) || h.synth.count() != 0 {
		t.Fatalf("error = %v calls = %d", err, h.synth.count())
	}
}

func TestGuidedGenerateConditionsOnSelectedImage(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, _ = h.o.SetPrompt(ctx, "a fox")
	first, err := h.o.Generate(ctx, 0, false)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if _, err := h.o.Generate(ctx, 0, true); err != nil {
		t.Fatalf("guided Generate returned error: %v", err)
	}
	if h.synth.controls[0] != "" || h.synth.controls[1] != first[0].URL || h.synth.steps[1] != GuidedSteps {
		t.Fatalf("controls = %v steps = %v", h.synth.controls, h.synth.steps)
	}

	if _, err := h.o.Upscale(ctx); err != nil {
		t.Fatalf("Upscale returned error: %v", err)
	}
	if _, err := h.o.Generate(ctx, 0, true); err != nil {
		t.Fatalf("guided Generate returned error: %v", err)
	}
	if !strings.HasPrefix(h.synth.controls[2], "data:image/png;base64,") {
		t.Fatalf("local control image = %q, want data url", h.synth.controls[2])
	}
}

func TestFailedGenerateLeavesHistoryUnchanged(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, _ = h.o.SetPrompt(ctx, "a fox")
	if _, err := h.o.Generate(ctx, 4, false); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	before := h.o.Snapshot()

	h.synth.err = domain.UpstreamStatus("replicate", "predict", 500, errors.New("boom"))
	_, err := h.o.Generate(ctx, 4, false)
	if !domain.IsUpstream(err) {
		t.Fatalf("error = %v, want UpstreamError", err)
	}
	after := h.o.Snapshot()
	if len(after.History) != len(before.History) || after.Selected != before.Selected || after.Current.URL != before.Current.URL {
		t.Fatalf("history changed: before %+v after %+v", before.History, after.History)
	}
	if after.State != StateIdle || after.LastError == "" {
		t.Fatalf("snapshot = %+v", after)
	}
	errs := h.log.ofType(EventError)
	if len(errs) != 1 || errs[0].Action != "generate" {
		t.Fatalf("error events = %+v", errs)
	}
	last := h.usage.events[len(h.usage.events)-1]
	if last.Success || last.ErrorKind != "upstream" {
		t.Fatalf("usage = %+v", last)
	}
}

func TestEmptySynthesisResultIsUpstreamError(t *testing.T) {
	h := newHarness()
	h.synth.empty = true
	_, _ = h.o.SetPrompt(context.Background(), "a fox")
	_, err := h.o.Generate(context.Background(), 4, false)
	if !domain.IsUpstream(err) || !errors.Is(err, domain.ErrEmptyResult) {
		t.Fatalf("error = %v, want empty-result UpstreamError", err)
	}
	if len(h.o.Snapshot().History) != 0 {
		t.Fatal("history must stay empty")
	}
}

func TestFailedRefineKeepsPromptAndContext(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, _ = h.o.GetPrompt(ctx, "a fox", "")
	before := h.o.Snapshot().Prompt

	h.prompts.err = domain.Upstream("together", "chat", domain.ErrEmptyResult)
	if _, err := h.o.Shrink(ctx); !domain.IsUpstream(err) {
		t.Fatalf("error = %v, want UpstreamError", err)
	}
	if got := h.o.Snapshot().Prompt; got != before {
		t.Fatalf("prompt = %q, want %q", got, before)
	}
}

func TestOnlyOneOperationAtATime(t *testing.T) {
	h := newHarness()
	h.synth.started = make(chan struct{}, 1)
	h.synth.release = make(chan struct{})
	ctx := context.Background()
	_, _ = h.o.SetPrompt(ctx, "a fox")

	done := make(chan error, 1)
	go func() {
		_, err := h.o.Generate(ctx, 4, false)
		done <- err
	}()
	<-h.synth.started

	if got := h.o.Snapshot().State; got != StateSynthesizing {
		t.Fatalf("state = %q, want synthesizing", got)
	}
	attempts := []func() error{
		func() error { _, err := h.o.Generate(ctx, 4, false); return err },
		func() error { _, err := h.o.GetPrompt(ctx, "a cat", ""); return err },
		func() error { _, err := h.o.Critique(ctx); return err },
		func() error { _, err := h.o.Shrink(ctx); return err },
		func() error { _, err := h.o.SetPrompt(ctx, "a cat"); return err },
		func() error { return h.o.Select(0) },
	}
	var wg sync.WaitGroup
	for _, try := range attempts {
		wg.Add(1)
		go func(try func() error) {
			defer wg.Done()
			if err := try(); !errors.Is(err, domain.ErrBusy) {
				t.Errorf("error = %v, want ErrBusy", err)
			}
		}(try)
	}
	wg.Wait()

	close(h.synth.release)
	if err := <-done; err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if h.synth.count() != 1 || h.prompts.count() != 0 || h.critic.count() != 0 {
		t.Fatalf("calls: synth %d prompts %d critic %d", h.synth.count(), h.prompts.count(), h.critic.count())
	}
	if h.o.Snapshot().Prompt != "a fox" {
		t.Fatal("busy edit must not change the prompt")
	}
}

func TestCollaboratorTimeoutIsUpstreamTimeout(t *testing.T) {
	h := newHarness(func(d *Deps) { d.Timeouts.Synth = 20 * time.Millisecond })
	h.synth.waitCtx = true
	_, _ = h.o.SetPrompt(context.Background(), "a fox")

	_, err := h.o.Generate(context.Background(), 4, false)
	if !domain.IsTimeout(err) {
		t.Fatalf("error = %v, want upstream timeout", err)
	}
	if h.o.Snapshot().State != StateIdle {
		t.Fatal("session must return to idle after a timeout")
	}
	if last := h.usage.events[len(h.usage.events)-1]; last.ErrorKind != "timeout" {
		t.Fatalf("usage error kind = %q", last.ErrorKind)
	}
}

func TestPoolWaitCountsAgainstTimeout(t *testing.T) {
	pool := NewPool(1)
	h := newHarness(func(d *Deps) {
		d.Pool = pool
		d.Timeouts.Synth = 30 * time.Millisecond
	})
	_, _ = h.o.SetPrompt(context.Background(), "a fox")

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err := h.o.Generate(context.Background(), 4, false)
	if !domain.IsTimeout(err) {
		t.Fatalf("error = %v, want upstream timeout while the pool is full", err)
	}
	if h.synth.calls != 0 {
		t.Fatalf("synth calls = %d, want 0", h.synth.calls)
	}
}

func TestElapsedTickerStopsWithOperation(t *testing.T) {
	h := newHarness()
	h.synth.delay = 40 * time.Millisecond
	_, _ = h.o.SetPrompt(context.Background(), "a fox")
	if _, err := h.o.Generate(context.Background(), 4, false); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	ticks := len(h.log.ofType(EventElapsed))
	if ticks == 0 {
		t.Fatal("expected elapsed events while synthesizing")
	}
	time.Sleep(30 * time.Millisecond)
	if got := len(h.log.ofType(EventElapsed)); got != ticks {
		t.Fatalf("elapsed events after completion: %d, want %d", got, ticks)
	}
	states := h.log.ofType(EventState)
	if final := states[len(states)-1]; final.State != StateIdle || final.ElapsedMS < 40 {
		t.Fatalf("final state event = %+v", final)
	}
}

func TestElapsedTickerStopsOnFailure(t *testing.T) {
	h := newHarness()
	h.synth.delay = 20 * time.Millisecond
	h.synth.err = errors.New("boom")
	_, _ = h.o.SetPrompt(context.Background(), "a fox")
	_, _ = h.o.Generate(context.Background(), 4, false)
	ticks := len(h.log.ofType(EventElapsed))
	time.Sleep(20 * time.Millisecond)
	if got := len(h.log.ofType(EventElapsed)); got != ticks {
		t.Fatalf("elapsed events after failure: %d, want %d", got, ticks)
	}
}

func TestAdaptCLIPKeepsPrompt(t *testing.T) {
	h := newHarness()
	_, _ = h.o.SetPrompt(context.Background(), "a fox")
	clip, err := h.o.AdaptCLIP(context.Background())
	if err != nil {
		t.Fatalf("AdaptCLIP returned error: %v", err)
	}
	if clip != "clip, a fox" || h.o.Snapshot().Prompt != "a fox" {
		t.Fatalf("clip = %q prompt = %q", clip, h.o.Snapshot().Prompt)
	}
}

func TestImproveRequiresCritique(t *testing.T) {
	h := newHarness()
	_, _ = h.o.SetPrompt(context.Background(), "a fox")
	_, err := h.o.ImprovePrompt(context.Background(), "")
	if !errors.Is(err, domain.ErrNoCritique) || h.prompts.count() != 0 {
		t.Fatalf("error = %v calls = %d", err, h.prompts.count())
	}
	if _, err := h.o.ImprovePrompt(context.Background(), "more contrast"); err != nil {
		t.Fatalf("ImprovePrompt returned error: %v", err)
	}
	if h.prompts.calls[0] != "improve:more contrast" {
		t.Fatalf("calls = %v", h.prompts.calls)
	}
}

func TestSelectRedirectsCritiqueAndRefine(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, _ = h.o.SetPrompt(ctx, "a fox")
	first, _ := h.o.Generate(ctx, 4, false)
	_, _ = h.o.Generate(ctx, 4, false)

	images := len(h.log.ofType(EventImage))
	if err := h.o.Select(0); err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if got := len(h.log.ofType(EventImage)); got != images {
		t.Fatalf("image events after Select = %d, want %d", got, images)
	}
	sel := h.log.ofType(EventSelection)
	if len(sel) != 1 || sel[0].Index != 0 || sel[0].Image.URL != first[0].URL {
		t.Fatalf("selection events = %+v", sel)
	}
	if _, err := h.o.Critique(ctx); err != nil {
		t.Fatalf("Critique returned error: %v", err)
	}
	if h.critic.images[0].URL != first[0].URL {
		t.Fatalf("critiqued %q, want %q", h.critic.images[0].URL, first[0].URL)
	}
	ref, err := h.o.RefineImage(ctx, "sharper", false)
	if err != nil {
		t.Fatalf("RefineImage returned error: %v", err)
	}
	snap := h.o.Snapshot()
	if snap.Selected != 2 || snap.Current.URL != ref.URL {
		t.Fatalf("new image must become current: %+v", snap)
	}
}

func TestCheckText(t *testing.T) {
	h := newHarness()
	_, _ = h.o.SetPrompt(context.Background(), "a sign")
	_, _ = h.o.Generate(context.Background(), 4, false)
	res, err := h.o.CheckText(context.Background())
	if err != nil {
		t.Fatalf("CheckText returned error: %v", err)
	}
	if res.OK || res.Detail != "sign reads OPNE" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRenderSDXL(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, _ = h.o.SetPrompt(ctx, "a fox")
	if _, err := h.o.RenderSDXL(ctx, "", true); !errors.Is(err, domain.ErrNoImages) {
		t.Fatalf("error = %v, want ErrNoImages", err)
	}
	ref, err := h.o.RenderSDXL(ctx, "", false)
	if err != nil {
		t.Fatalf("RenderSDXL returned error: %v", err)
	}
	if h.refiner.calls[0] != "txt2img:a fox" || ref.Source != domain.SourceSDXLTxt2Img {
		t.Fatalf("calls = %v ref = %+v", h.refiner.calls, ref)
	}
	if _, err := h.o.RenderSDXL(ctx, "a wolf", true); err != nil {
		t.Fatalf("RenderSDXL returned error: %v", err)
	}
	if h.refiner.sources[0].URL != ref.URL {
		t.Fatalf("control = %+v, want %q", h.refiner.sources[0], ref.URL)
	}
}

func TestRefinerFailureIsLocalServiceError(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, _ = h.o.SetPrompt(ctx, "a fox")
	_, _ = h.o.Generate(ctx, 4, false)
	h.refiner.err = domain.Local("img2img", errors.New("connection refused"))
	if _, err := h.o.RefineImage(ctx, "", true); !domain.IsLocalService(err) {
		t.Fatalf("error = %v, want LocalServiceError", err)
	}
	if len(h.o.Snapshot().History) != 1 {
		t.Fatal("history must be unchanged")
	}
}

func TestMissingCollaboratorIsLocalServiceError(t *testing.T) {
	h := newHarness(func(d *Deps) { d.Refiner = nil })
	_, _ = h.o.SetPrompt(context.Background(), "a fox")
	_, _ = h.o.Generate(context.Background(), 4, false)
	if _, err := h.o.Upscale(context.Background()); !domain.IsLocalService(err) {
		t.Fatalf("error = %v, want LocalServiceError", err)
	}
}

func TestTokenCountFallsBackToApproximation(t *testing.T) {
	h := newHarness(func(d *Deps) { d.Tokens = failingCounter{} })
	report, err := h.o.SetPrompt(context.Background(), "Hello you, I am you")
	if err != nil {
		t.Fatalf("SetPrompt returned error: %v", err)
	}
	if report.Count != 6 || report.Over {
		t.Fatalf("report = %+v", report)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newHarness()
	var mu sync.Mutex
	n := 0
	cancel := h.o.Subscribe(func(Event) { mu.Lock(); n++; mu.Unlock() })
	_, _ = h.o.SetPrompt(context.Background(), "a fox")
	cancel()
	cancel()
	_, _ = h.o.SetPrompt(context.Background(), "a cat")
	mu.Lock()
	defer mu.Unlock()
	if n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
}
