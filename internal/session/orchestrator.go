// Package session sequences the prompt, synthesis, critique and refinement
// collaborators for one user session and enforces its state machine.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"promptcraft/internal/domain"
	"promptcraft/internal/infra"
	"promptcraft/internal/tokenizer"
	"promptcraft/internal/usage"
)

// PromptRefiner produces and rewrites prompts over a per-session
// conversation.
type PromptRefiner interface {
	Refine(ctx context.Context, seed string, style domain.Style) (string, error)
	Shrink(ctx context.Context, text string) (string, error)
	Improve(ctx context.Context, critique, current string, style domain.Style) (string, error)
	AdaptForCLIP(ctx context.Context, text string) (string, error)
}

// Synthesizer renders prompts into images.
type Synthesizer interface {
	Synthesize(ctx context.Context, prompt string, steps int, controlImage string) ([]domain.ImageRef, error)
}

// Critic reviews images.
type Critic interface {
	Critique(ctx context.Context, image domain.ImageRef) (string, error)
	CheckText(ctx context.Context, image domain.ImageRef) (bool, string, error)
}

// ImageRefiner runs the local rendering passes.
type ImageRefiner interface {
	RefineImage(ctx context.Context, session, prompt string, source domain.ImageRef, faceRestoration bool) (domain.ImageRef, error)
	Upscale(ctx context.Context, session string, source domain.ImageRef) (domain.ImageRef, error)
	Txt2Img(ctx context.Context, session, prompt string, control *domain.ImageRef) (domain.ImageRef, error)
}

// ImageLoader reads image bytes for a reference.
type ImageLoader interface {
	Load(ctx context.Context, ref domain.ImageRef) ([]byte, string, error)
}

// Timeouts bound each collaborator call.
type Timeouts struct {
	Prompt  time.Duration
	Synth   time.Duration
	Critic  time.Duration
	Refiner time.Duration
}

// DefaultTimeouts returns the per-collaborator defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Prompt:  60 * time.Second,
		Synth:   180 * time.Second,
		Critic:  90 * time.Second,
		Refiner: 300 * time.Second,
	}
}

// Deps are the collaborators and settings shared by every session.
type Deps struct {
	Synth        Synthesizer
	Critic       Critic
	Refiner      ImageRefiner
	Loader       ImageLoader
	Tokens       tokenizer.Counter
	Usage        usage.Recorder
	Pool         *Pool
	Timeouts     Timeouts
	TokenBudget  int
	TickInterval time.Duration
	Logger       *infra.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Tokens == nil {
		d.Tokens = tokenizer.Approx{}
	}
	if d.Usage == nil {
		d.Usage = usage.Nop{}
	}
	if d.Pool == nil {
		d.Pool = NewPool(4)
	}
	def := DefaultTimeouts()
	if d.Timeouts.Prompt <= 0 {
		d.Timeouts.Prompt = def.Prompt
	}
	if d.Timeouts.Synth <= 0 {
		d.Timeouts.Synth = def.Synth
	}
	if d.Timeouts.Critic <= 0 {
		d.Timeouts.Critic = def.Critic
	}
	if d.Timeouts.Refiner <= 0 {
		d.Timeouts.Refiner = def.Refiner
	}
	if d.TokenBudget <= 0 {
		d.TokenBudget = tokenizer.DefaultBudget
	}
	if d.TickInterval <= 0 {
		d.TickInterval = 100 * time.Millisecond
	}
	d.Logger = infra.Component(d.Logger, "session")
	return d
}

// Orchestrator owns one session. At most one collaborator call is pending
// at a time; results are committed only after the call succeeds.
type Orchestrator struct {
	id      string
	deps    Deps
	prompts PromptRefiner
	events  *hub
	now     func() time.Time

	mu        sync.Mutex
	state     State
	action    string
	seed      string
	style     domain.Style
	prompt    string
	tokens    tokenizer.Report
	history   []domain.ImageRef
	selected  int
	critique  string
	lastErr   string
	closed    bool
	createdAt time.Time
	updatedAt time.Time
}

// New creates an idle session using prompts for its conversation.
func New(id string, prompts PromptRefiner, deps Deps) *Orchestrator {
	deps = deps.withDefaults()
	now := time.Now().UTC()
	return &Orchestrator{
		id:        id,
		deps:      deps,
		prompts:   prompts,
		events:    newHub(),
		now:       func() time.Time { return time.Now().UTC() },
		state:     StateIdle,
		style:     domain.DefaultStyle,
		selected:  -1,
		tokens:    tokenizer.Report{Budget: deps.TokenBudget},
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the session id.
func (o *Orchestrator) ID() string { return o.id }

// Subscribe registers fn for every event of this session. The returned
// function cancels the subscription.
func (o *Orchestrator) Subscribe(fn func(Event)) func() {
	return o.events.subscribe(fn)
}

// Snapshot returns a copy of the session state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{
		ID:        o.id,
		State:     o.state,
		Action:    o.action,
		Seed:      o.seed,
		Style:     o.style,
		Prompt:    o.prompt,
		Tokens:    o.tokens,
		History:   append([]domain.ImageRef(nil), o.history...),
		Selected:  o.selected,
		Critique:  o.critique,
		LastError: o.lastErr,
		CreatedAt: o.createdAt,
		UpdatedAt: o.updatedAt,
	}
	if s.History == nil {
		s.History = []domain.ImageRef{}
	}
	if cur, ok := o.currentLocked(); ok {
		s.Current = &cur
	}
	return s
}

// Pending reports whether an operation is in flight.
func (o *Orchestrator) Pending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state != StateIdle
}

// LastActive returns the time of the last state change.
func (o *Orchestrator) LastActive() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.updatedAt
}

// tryClose marks an idle session closed. It reports false, leaving the
// session open, while an operation is pending. idleSince, when non-zero,
// additionally requires no activity after that time.
func (o *Orchestrator) tryClose(idleSince time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.state != StateIdle {
		return false
	}
	if !idleSince.IsZero() && o.updatedAt.After(idleSince) {
		return false
	}
	o.closed = true
	return true
}

// close drops all observers and ends their streams.
func (o *Orchestrator) close() {
	o.events.close()
}

// Done is closed once the session has been closed.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.events.done
}

// usableLocked rejects edits and actions on a closed or busy session.
// Callers hold o.mu.
func (o *Orchestrator) usableLocked() error {
	if o.closed {
		return domain.ErrSessionNotFound
	}
	if o.state != StateIdle {
		return domain.ErrBusy
	}
	return nil
}

// currentLocked returns the selected image. Callers hold o.mu.
func (o *Orchestrator) currentLocked() (domain.ImageRef, bool) {
	if o.selected < 0 || o.selected >= len(o.history) {
		return domain.ImageRef{}, false
	}
	return o.history[o.selected], true
}

// requireImageLocked returns the selected image or a ValidationError.
func (o *Orchestrator) requireImageLocked() (domain.ImageRef, error) {
	cur, ok := o.currentLocked()
	if !ok {
		return domain.ImageRef{}, domain.Invalid("image", domain.ErrNoImages)
	}
	return cur, nil
}

// appendLocked adds refs to history and selects the last one.
func (o *Orchestrator) appendLocked(action string, refs ...domain.ImageRef) []Event {
	evs := make([]Event, 0, len(refs))
	for _, ref := range refs {
		o.history = append(o.history, ref)
		img := ref
		evs = append(evs, Event{Type: EventImage, Action: action, Image: &img, Index: len(o.history) - 1})
	}
	o.selected = len(o.history) - 1
	return evs
}

// op describes one orchestrated collaborator call.
type op struct {
	action  string
	state   State
	service string
	timeout time.Duration
}

// begin moves the session from Idle to target after check passes. check
// runs under the lock and captures the inputs of the call.
func (o *Orchestrator) begin(p op, check func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.usableLocked(); err != nil {
		return err
	}
	if check != nil {
		if err := check(); err != nil {
			return err
		}
	}
	o.state = p.state
	o.action = p.action
	o.updatedAt = o.now()
	return nil
}

// run executes call on the worker pool, keeps the elapsed ticker running
// meanwhile and commits on success. The collaborator timeout covers both the
// wait for a pool slot and the call. commit runs under the lock and returns
// the events to publish.
func (o *Orchestrator) run(ctx context.Context, p op, check func() error, call func(ctx context.Context) (commit func() []Event, err error)) error {
	if err := o.begin(p, check); err != nil {
		return err
	}
	start := time.Now()
	o.publish(Event{Type: EventState, State: p.state, Action: p.action})
	o.deps.Logger.Debug().Str("session", o.id).Str("action", p.action).Msg("session: operation started")

	stop := o.startTicker(p, start)
	var commit func() []Event
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := o.deps.Pool.Do(callCtx, func() error {
		var callErr error
		commit, callErr = call(callCtx)
		return callErr
	})
	cancel()
	stop()
	err = classify(p, err)
	elapsed := time.Since(start)

	var evs []Event
	o.mu.Lock()
	if err == nil && commit != nil {
		evs = commit()
	}
	o.state = StateIdle
	o.action = ""
	if err != nil {
		o.lastErr = err.Error()
	} else {
		o.lastErr = ""
	}
	o.updatedAt = o.now()
	o.mu.Unlock()

	for _, ev := range evs {
		o.publish(ev)
	}
	logEvent := o.deps.Logger.Info()
	if err != nil {
		o.publish(Event{Type: EventError, Action: p.action, Error: err.Error()})
		logEvent = o.deps.Logger.Warn().Err(err)
	}
	o.publish(Event{Type: EventState, State: StateIdle, Action: p.action, ElapsedMS: elapsed.Milliseconds()})
	logEvent.Str("session", o.id).Str("action", p.action).Dur("elapsed", elapsed).Msg("session: operation finished")

	o.deps.Usage.Record(ctx, usage.Event{
		SessionID: o.id,
		Action:    p.action,
		Success:   err == nil,
		ErrorKind: errorKind(err),
		Latency:   elapsed,
	})
	return err
}

// classify turns a context expiry that escaped the collaborator untyped
// into an upstream timeout.
func classify(p op, err error) error {
	if err == nil || domain.IsTimeout(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && !domain.IsLocalService(err) && !domain.IsValidation(err) {
		return &domain.UpstreamError{Service: p.service, Op: p.action, Timeout: true, Err: err}
	}
	return err
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case domain.IsTimeout(err):
		return "timeout"
	case domain.IsUpstream(err):
		return "upstream"
	case domain.IsLocalService(err):
		return "local_service"
	case domain.IsValidation(err):
		return "validation"
	default:
		return "internal"
	}
}

// startTicker publishes elapsed events until the returned stop function
// is called. stop waits for the ticker goroutine to exit.
func (o *Orchestrator) startTicker(p op, start time.Time) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(o.deps.TickInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				o.publish(Event{Type: EventElapsed, State: p.state, Action: p.action, ElapsedMS: time.Since(start).Milliseconds()})
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func (o *Orchestrator) publish(ev Event) {
	ev.SessionID = o.id
	if ev.State == "" {
		o.mu.Lock()
		ev.State = o.state
		o.mu.Unlock()
	}
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	o.events.publish(ev)
}

// measure counts tokens for text, falling back to the local approximation
// when the configured counter fails.
func (o *Orchestrator) measure(ctx context.Context, text string) tokenizer.Report {
	r, err := tokenizer.Measure(ctx, o.deps.Tokens, text, o.deps.TokenBudget)
	if err == nil {
		return r
	}
	o.deps.Logger.Warn().Err(err).Str("session", o.id).Msg("session: token count failed, using approximation")
	r, _ = tokenizer.Measure(context.Background(), tokenizer.Approx{}, text, o.deps.TokenBudget)
	return r
}
