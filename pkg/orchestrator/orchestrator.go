// Package orchestrator drives a guided procedure as a spoken conversation.
//
// All conversation logic runs on a single loop goroutine. Inputs (start,
// utterances, manual advance, detection sets) and completions (speech
// finished or cancelled, reasoning replies, timers) arrive as events on
// that loop, so the current step, cached detections and turn flags have a
// single writer. Long operations never block the loop: speaking and
// reasoning are suspend points that resume when their completion event
// arrives.
//
// At most one reasoning call and one utterance are in flight. While either
// is, new utterances are dropped.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/procedure"
	"github.com/dvegas03/MechAI/pkg/reasoning"
)

// Speaker is the speech synthesis collaborator. Speak must return before the
// finished or cancelled callback for the returned id fires, or fire it from
// another goroutine.
type Speaker interface {
	Speak(ctx context.Context, text string) (string, error)
	Cancel() bool
	OnFinished(fn func(id string))
	OnCancelled(fn func(id string))
}

// Highlighter is told which detection class the current step is about.
type Highlighter interface {
	HighlightClass(name string)
}

// Deps are the orchestrator's collaborators. Reasoner and Script are
// required.
type Deps struct {
	Reasoner reasoning.Client
	Script   *procedure.Script

	// Speaker is optional; without it speech is paced by a timer.
	Speaker Speaker

	// Frames supplies images for vision questions. Optional.
	Frames detection.FrameSource

	Highlighter Highlighter
	Clock       Clock
}

// Status is a snapshot of the conversation.
type Status struct {
	State      State                  `json:"state"`
	Step       *procedure.StepContext `json:"step,omitempty"`
	StepIndex  int                    `json:"step_index"`
	StepCount  int                    `json:"step_count"`
	Speaking   bool                   `json:"speaking"`
	Processing bool                   `json:"processing"`
	Detections detection.Set          `json:"detections"`
	Highlight  string                 `json:"highlight,omitempty"`
	TurnID     string                 `json:"turn_id,omitempty"`
}

type pendingSpeech struct {
	id       string
	then     func()
	onCancel func()
}

type pendingReasoning struct {
	seq      uint64
	deadline uint64
	fallback string
	then     func(string)
}

type timer struct {
	stop func() bool
	fn   func()
}

// Orchestrator runs the conversation state machine.
type Orchestrator struct {
	cfg         Config
	reasoner    reasoning.Client
	script      *procedure.Script
	speaker     Speaker
	frames      detection.FrameSource
	highlighter Highlighter
	clock       Clock
	logger      *slog.Logger

	machine *Machine

	inbox    chan event
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	stopped  atomic.Bool

	speaking   atomic.Bool
	processing atomic.Bool

	// Loop-owned.
	ctx        context.Context
	started    bool
	stepIndex  int
	step       *procedure.StepContext
	detections detection.Set
	highlight  string
	turnID     string
	speech     *pendingSpeech
	speechSeq  uint64
	reasoning  *pendingReasoning
	reasonSeq  uint64
	timers     map[uint64]timer
	timerSeq   uint64

	mu          sync.RWMutex
	onStep      []func(*procedure.StepContext)
	onCompleted []func()
	onAssistant []func(string)
	onUser      []func(string)
	onHighlight []func(string)
}

// New creates an orchestrator. It fails if a required collaborator is
// missing.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Reasoner == nil {
		return nil, ErrMissingReasoner
	}
	if deps.Script == nil {
		return nil, ErrMissingScript
	}
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}

	o := &Orchestrator{
		cfg:         cfg,
		reasoner:    deps.Reasoner,
		script:      deps.Script,
		speaker:     deps.Speaker,
		frames:      deps.Frames,
		highlighter: deps.Highlighter,
		clock:       deps.Clock,
		logger:      cfg.Logger.With("component", "orchestrator"),
		machine:     NewMachine(Initializing),
		inbox:       make(chan event, cfg.QueueSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		ctx:         context.Background(),
		stepIndex:   -1,
		timers:      make(map[uint64]timer),
	}

	if o.speaker != nil {
		o.speaker.OnFinished(func(id string) { o.post(evSpeechDone{id: id}) })
		o.speaker.OnCancelled(func(id string) { o.post(evSpeechDone{id: id, cancelled: true}) })
	}
	o.machine.OnChange(func(old, new State) {
		o.logger.Info("state changed", "from", old.String(), "to", new.String())
	})
	return o, nil
}

// Run processes events until ctx is done or Stop is called. An
// orchestrator runs once; later calls return ErrStopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if o.stopped.Load() {
		o.running.Store(false)
		return ErrStopped
	}
	o.ctx = ctx
	defer o.shutdown()

	if o.cfg.AutoStartDelay > 0 {
		o.after(o.cfg.AutoStartDelay, o.start)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.quit:
			return nil
		case ev := <-o.inbox:
			o.dispatch(ev)
		}
	}
}

// Stop ends Run. Pending waits are cancelled and turn flags reset.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.quit) })
}

func (o *Orchestrator) shutdown() {
	for seq, t := range o.timers {
		t.stop()
		delete(o.timers, seq)
	}
	o.speech = nil
	o.reasoning = nil
	if o.speaker != nil {
		o.speaker.Cancel()
	}
	o.speaking.Store(false)
	o.processing.Store(false)
	o.stopped.Store(true)
	o.running.Store(false)
	close(o.done)
	o.logger.Info("orchestrator stopped", "state", o.machine.State().String())
}

// Start begins the conversation. Later calls are ignored.
func (o *Orchestrator) Start() { o.post(evStart{}) }

// HandleUtterance delivers a finalized user utterance.
func (o *Orchestrator) HandleUtterance(text string) { o.post(evUtterance{text: text}) }

// AdvanceStep releases a step waiting for confirmation. It is a no-op in
// any other state.
func (o *Orchestrator) AdvanceStep() { o.post(evAdvance{}) }

// HandleDetections caches the latest detection set. Sets are dropped when
// the loop is backed up.
func (o *Orchestrator) HandleDetections(set detection.Set) {
	select {
	case o.inbox <- evDetections{set: set}:
	default:
	}
}

// State returns the current state.
func (o *Orchestrator) State() State { return o.machine.State() }

// Speaking reports whether an utterance is being spoken.
func (o *Orchestrator) Speaking() bool { return o.speaking.Load() }

// Processing reports whether a reasoning call is outstanding.
func (o *Orchestrator) Processing() bool { return o.processing.Load() }

// Busy reports whether a turn is in flight.
func (o *Orchestrator) Busy() bool { return o.Speaking() || o.Processing() }

// Status returns a snapshot taken on the loop.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	if !o.running.Load() {
		return Status{}, ErrNotRunning
	}
	ch := make(chan Status, 1)
	fn := func() { ch <- o.snapshot() }
	select {
	case o.inbox <- evFunc{fn: fn}:
	case <-o.done:
		return Status{}, ErrNotRunning
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case s := <-ch:
		return s, nil
	case <-o.done:
		return Status{}, ErrNotRunning
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (o *Orchestrator) snapshot() Status {
	s := Status{
		State:      o.machine.State(),
		StepIndex:  o.stepIndex,
		StepCount:  o.script.Len(),
		Speaking:   o.speaking.Load(),
		Processing: o.processing.Load(),
		Detections: o.detections.Clone(),
		Highlight:  o.highlight,
		TurnID:     o.turnID,
	}
	if o.step != nil {
		step := *o.step
		s.Step = &step
	}
	return s
}

// OnStateChanged registers fn for every state transition. It is called
// synchronously with the transition, in order.
func (o *Orchestrator) OnStateChanged(fn func(old, new State)) { o.machine.OnChange(fn) }

// OnStepChanged registers fn for step context changes. A nil step means no
// step is active.
func (o *Orchestrator) OnStepChanged(fn func(*procedure.StepContext)) {
	o.mu.Lock()
	o.onStep = append(o.onStep, fn)
	o.mu.Unlock()
}

// OnProcedureCompleted registers fn for the end of the step sequence.
func (o *Orchestrator) OnProcedureCompleted(fn func()) {
	o.mu.Lock()
	o.onCompleted = append(o.onCompleted, fn)
	o.mu.Unlock()
}

// OnAssistantText registers fn for every utterance the assistant speaks.
func (o *Orchestrator) OnAssistantText(fn func(text string)) {
	o.mu.Lock()
	o.onAssistant = append(o.onAssistant, fn)
	o.mu.Unlock()
}

// OnUserText registers fn for every accepted user utterance.
func (o *Orchestrator) OnUserText(fn func(text string)) {
	o.mu.Lock()
	o.onUser = append(o.onUser, fn)
	o.mu.Unlock()
}

// OnHighlight registers fn for changes of the highlighted class.
func (o *Orchestrator) OnHighlight(fn func(class string)) {
	o.mu.Lock()
	o.onHighlight = append(o.onHighlight, fn)
	o.mu.Unlock()
}

func (o *Orchestrator) emitText(fns *[]func(string), text string) {
	o.mu.RLock()
	list := *fns
	o.mu.RUnlock()
	for _, fn := range list {
		fn(text)
	}
}

func (o *Orchestrator) emitStep(step *procedure.StepContext) {
	o.mu.RLock()
	list := o.onStep
	o.mu.RUnlock()
	for _, fn := range list {
		fn(step)
	}
}

func (o *Orchestrator) emitCompleted() {
	o.mu.RLock()
	list := o.onCompleted
	o.mu.RUnlock()
	for _, fn := range list {
		fn()
	}
}

// post delivers ev to the loop. It never blocks after shutdown.
func (o *Orchestrator) post(ev event) {
	select {
	case o.inbox <- ev:
	case <-o.done:
	}
}

func (o *Orchestrator) dispatch(ev event) {
	switch e := ev.(type) {
	case evStart:
		o.start()
	case evUtterance:
		o.utterance(e.text)
	case evAdvance:
		o.advance()
	case evDetections:
		o.detections = e.set
	case evSpeechDone:
		o.speechDone(e)
	case evReasoningDone:
		o.reasoningDone(e)
	case evTimer:
		if t, ok := o.timers[e.seq]; ok {
			delete(o.timers, e.seq)
			t.fn()
		}
	case evFunc:
		e.fn()
	}
}

// after runs fn on the loop once d has elapsed and returns a handle for
// cancelTimer.
func (o *Orchestrator) after(d time.Duration, fn func()) uint64 {
	o.timerSeq++
	seq := o.timerSeq
	stop := o.clock.AfterFunc(d, func() { o.post(evTimer{seq: seq}) })
	o.timers[seq] = timer{stop: stop, fn: fn}
	return seq
}

func (o *Orchestrator) cancelTimer(seq uint64) {
	if t, ok := o.timers[seq]; ok {
		t.stop()
		delete(o.timers, seq)
	}
}

// say speaks text and then runs then, or onCancel if the speech was
// cancelled. Either may be nil.
func (o *Orchestrator) say(text string, then, onCancel func()) {
	text = strings.TrimSpace(text)
	if text == "" {
		if then != nil {
			then()
		}
		return
	}

	o.speaking.Store(true)
	o.emitText(&o.onAssistant, text)

	if o.speaker != nil {
		id, err := o.speaker.Speak(o.ctx, text)
		if err == nil {
			o.speech = &pendingSpeech{id: id, then: then, onCancel: onCancel}
			return
		}
		o.logger.Warn("speech synthesis unavailable, pacing by timer", "error", err)
	}

	o.speechSeq++
	id := fmt.Sprintf("timer-%d", o.speechSeq)
	o.speech = &pendingSpeech{id: id, then: then, onCancel: onCancel}
	o.after(o.speechDuration(text), func() { o.speechDone(evSpeechDone{id: id}) })
}

func (o *Orchestrator) speechDuration(text string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(text)) * o.cfg.SpeechCharDuration
	if d < o.cfg.MinSpeechDuration {
		d = o.cfg.MinSpeechDuration
	}
	return d
}

func (o *Orchestrator) speechDone(e evSpeechDone) {
	p := o.speech
	if p == nil || p.id != e.id {
		return
	}
	o.speech = nil
	o.speaking.Store(false)

	next := p.then
	if e.cancelled {
		o.logger.Debug("speech cancelled", "id", e.id)
		next = p.onCancel
	}
	if next != nil {
		next()
	}
}

// reason runs call off the loop and passes its reply, or fallback if it
// failed or came back empty, to then.
func (o *Orchestrator) reason(kind string, call func(ctx context.Context) (string, error), fallback string, then func(string)) {
	o.reasonSeq++
	seq := o.reasonSeq
	o.reasoning = &pendingReasoning{seq: seq, fallback: fallback, then: then}
	o.processing.Store(true)

	// The call gets a deadline ctx, but a client may ignore it. The loop
	// gives up on its own and the late reply is discarded by seq.
	o.reasoning.deadline = o.after(o.cfg.ReasoningTimeout, func() {
		o.logger.Warn("reasoning timed out", "kind", kind, "turn", o.turnID, "timeout", o.cfg.ReasoningTimeout)
		o.reasoningDone(evReasoningDone{seq: seq, err: context.DeadlineExceeded})
	})

	ctx, timeout := o.ctx, o.cfg.ReasoningTimeout
	logger := o.logger.With("kind", kind, "turn", o.turnID)
	go func() {
		reply, err := guard(ctx, timeout, call)
		if err != nil {
			logger.Warn("reasoning failed", "error", err)
		}
		o.post(evReasoningDone{seq: seq, reply: reply, err: err})
	}()
}

func guard(ctx context.Context, timeout time.Duration, call func(context.Context) (string, error)) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator: reasoning panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return call(ctx)
}

func (o *Orchestrator) reasoningDone(e evReasoningDone) {
	p := o.reasoning
	if p == nil || p.seq != e.seq {
		return
	}
	o.reasoning = nil
	o.processing.Store(false)
	o.cancelTimer(p.deadline)

	reply := strings.TrimSpace(e.reply)
	if e.err != nil || reply == "" {
		reply = p.fallback
	}
	p.then(reply)
}

func (o *Orchestrator) setHighlight(class string) {
	if o.highlighter != nil {
		o.highlighter.HighlightClass(class)
	}
	if class == o.highlight {
		return
	}
	o.highlight = class
	o.emitText(&o.onHighlight, class)
}

func newTurnID() string { return uuid.NewString() }
