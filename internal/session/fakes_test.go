package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"promptcraft/internal/domain"
	"promptcraft/internal/usage"
)

type fakePrompts struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakePrompts) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakePrompts) Refine(ctx context.Context, seed string, style domain.Style) (string, error) {
	if err := f.record("refine"); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s of %s, golden hour", style, seed), nil
}

func (f *fakePrompts) Shrink(ctx context.Context, text string) (string, error) {
	if err := f.record("shrink"); err != nil {
		return "", err
	}
	return "short " + text[:5], nil
}

func (f *fakePrompts) Improve(ctx context.Context, critique, current string, style domain.Style) (string, error) {
	if err := f.record("improve:" + critique); err != nil {
		return "", err
	}
	return current + ", improved", nil
}

func (f *fakePrompts) AdaptForCLIP(ctx context.Context, text string) (string, error) {
	if err := f.record("clip"); err != nil {
		return "", err
	}
	return "clip, " + text, nil
}

func (f *fakePrompts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSynth struct {
	mu       sync.Mutex
	calls    int
	controls []string
	steps    []int
	err      error
	empty    bool
	started  chan struct{}
	release  chan struct{}
	waitCtx  bool
	delay    time.Duration
}

func (f *fakeSynth) Synthesize(ctx context.Context, prompt string, steps int, control string) ([]domain.ImageRef, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.controls = append(f.controls, control)
	f.steps = append(f.steps, steps)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return nil, nil
	}
	source := domain.SourceFlux
	if control != "" {
		source = domain.SourceFluxGuided
	}
	return []domain.ImageRef{{URL: fmt.Sprintf("https://replicate.delivery/%d.png", n), Source: source}}, nil
}

func (f *fakeSynth) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCritic struct {
	mu     sync.Mutex
	images []domain.ImageRef
	err    error
}

func (f *fakeCritic) Critique(ctx context.Context, image domain.ImageRef) (string, error) {
	f.mu.Lock()
	f.images = append(f.images, image)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "lower the horizon", nil
}

func (f *fakeCritic) CheckText(ctx context.Context, image domain.ImageRef) (bool, string, error) {
	f.mu.Lock()
	f.images = append(f.images, image)
	f.mu.Unlock()
	return false, "sign reads OPNE", f.err
}

func (f *fakeCritic) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.images)
}

type fakeRefiner struct {
	mu      sync.Mutex
	calls   []string
	sources []domain.ImageRef
	faces   []bool
	err     error
}

func (f *fakeRefiner) local(kind string, source domain.ImageSource) domain.ImageRef {
	n := len(f.calls)
	return domain.ImageRef{
		URL:       fmt.Sprintf("http://localhost:8080/images/s/%s-%d.png", kind, n),
		LocalPath: fmt.Sprintf("/srv/images/s/%s-%d.png", kind, n),
		Source:    source,
	}
}

func (f *fakeRefiner) RefineImage(ctx context.Context, session, prompt string, source domain.ImageRef, face bool) (domain.ImageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "refine:"+prompt)
	f.sources = append(f.sources, source)
	f.faces = append(f.faces, face)
	if f.err != nil {
		return domain.ImageRef{}, f.err
	}
	return f.local("img2img", domain.SourceSDXLImg2Img), nil
}

func (f *fakeRefiner) Upscale(ctx context.Context, session string, source domain.ImageRef) (domain.ImageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "upscale")
	f.sources = append(f.sources, source)
	if f.err != nil {
		return domain.ImageRef{}, f.err
	}
	return f.local("upscale", domain.SourceSDXLUpscale), nil
}

func (f *fakeRefiner) Txt2Img(ctx context.Context, session, prompt string, control *domain.ImageRef) (domain.ImageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "txt2img:"+prompt)
	if control != nil {
		f.sources = append(f.sources, *control)
	}
	if f.err != nil {
		return domain.ImageRef{}, f.err
	}
	return f.local("txt2img", domain.SourceSDXLTxt2Img), nil
}

func (f *fakeRefiner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLoader struct{}

func (fakeLoader) Load(ctx context.Context, ref domain.ImageRef) ([]byte, string, error) {
	return []byte("img"), "image/png", nil
}

type failingCounter struct{}

func (failingCounter) Count(ctx context.Context, text string) (int, error) {
	return 0, errors.New("tokenizer down")
}

type usageLog struct {
	mu     sync.Mutex
	events []usage.Event
}

func (u *usageLog) Record(ctx context.Context, ev usage.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, ev)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	o       *Orchestrator
	prompts *fakePrompts
	synth   *fakeSynth
	critic  *fakeCritic
	refiner *fakeRefiner
	usage   *usageLog
	log     *eventLog
}

func newHarness(mutate ...func(*Deps)) *harness {
	h := &harness{
		prompts: &fakePrompts{},
		synth:   &fakeSynth{},
		critic:  &fakeCritic{},
		refiner: &fakeRefiner{},
		usage:   &usageLog{},
		log:     &eventLog{},
	}
	deps := Deps{
		Synth:        h.synth,
		Critic:       h.critic,
		Refiner:      h.refiner,
		Loader:       fakeLoader{},
		Usage:        h.usage,
		Pool:         NewPool(2),
		TickInterval: 5 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	h.o = New("s1", h.prompts, deps)
	h.o.Subscribe(h.log.add)
	return h
}

func (h *harness) calls() int {
	return h.prompts.count() + h.synth.count() + h.critic.count() + h.refiner.count()
}
