package orchestrator

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dvegas03/MechAI/pkg/procedure"
	"github.com/dvegas03/MechAI/pkg/reasoning"
)

func (o *Orchestrator) start() {
	if o.started {
		return
	}
	o.started = true
	o.logger.Info("conversation starting", "procedure", o.script.Title, "steps", o.script.Len())

	o.machine.Set(Greeting)
	toWaiting := func() { o.machine.Set(WaitingForFirstInput) }
	o.say(o.script.Greeting, toWaiting, toWaiting)
}

func (o *Orchestrator) utterance(text string) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < o.cfg.MinUtteranceChars {
		return
	}
	if o.Busy() {
		o.logger.Debug("utterance dropped, turn in flight", "text", text)
		return
	}

	state := o.machine.State()
	if state != WaitingForFirstInput && !state.acceptsQuestion() {
		o.logger.Debug("utterance ignored", "state", state.String())
		return
	}

	o.turnID = newTurnID()
	o.logger.Info("user utterance", "turn", o.turnID, "state", state.String(), "text", text)
	o.emitText(&o.onUser, text)

	if state == WaitingForFirstInput {
		o.beginInstruction(text)
		return
	}
	o.answer(state, text)
}

// beginInstruction speaks the fixed instruction, confirms readiness and
// starts the steps. Cancelled speech returns to waiting for input.
func (o *Orchestrator) beginInstruction(text string) {
	backToWaiting := func() { o.machine.Set(WaitingForFirstInput) }

	o.machine.Set(DeliveringPredefinedInstruction)
	o.say(o.script.FirstResponse, func() {
		o.machine.Set(ConfirmingPredefinedInstruction)
		readiness := procedure.StepContext{
			ProcedureTitle: o.script.Title,
			StepTitle:      "Getting ready",
			StepBody:       o.script.FirstResponse,
		}
		o.reason("readiness", func(ctx context.Context) (string, error) {
			return o.reasoner.ConfirmStep(ctx, readiness, text)
		}, o.cfg.ReadinessFallback, func(reply string) {
			o.logVerdict(reply)
			o.say(reply, o.startSteps, backToWaiting)
		})
	}, backToWaiting)
}

// answer runs one question turn from state prior.
func (o *Orchestrator) answer(prior State, text string) {
	o.machine.Set(ProcessingUserQuestion)

	var step *procedure.StepContext
	if o.step != nil {
		s := *o.step
		step = &s
	}
	intent := Route(text, o.cfg.VisionKeywords, o.cfg.ConfirmKeywords)
	o.logger.Debug("routing question", "turn", o.turnID, "intent", intent.String())

	var call func(ctx context.Context) (string, error)
	switch {
	case intent == IntentVision:
		dets := o.detections.Clone().Detections
		frames := o.frames
		call = func(ctx context.Context) (string, error) {
			if frames != nil {
				if frame, err := frames.Frame(ctx); err == nil && len(frame) > 0 {
					return o.reasoner.CheckImage(ctx, frame, text, step, dets)
				}
			}
			return o.reasoner.AskGeneral(ctx, text, step)
		}
	case intent == IntentConfirm && step != nil:
		call = func(ctx context.Context) (string, error) {
			return o.reasoner.ConfirmStep(ctx, *step, text)
		}
	default:
		call = func(ctx context.Context) (string, error) {
			return o.reasoner.AskGeneral(ctx, text, step)
		}
	}

	resume := func() {
		if prior == StepAwaitingUserInput {
			o.machine.Set(RunningSteps)
			o.nextStep()
			return
		}
		o.machine.Set(IdleQnA)
	}
	onCancel := func() {
		if prior == StepAwaitingUserInput {
			o.machine.Set(StepAwaitingUserInput)
			return
		}
		o.machine.Set(IdleQnA)
	}

	o.reason(intent.String(), call, o.script.Error, func(reply string) {
		if intent == IntentConfirm {
			o.logVerdict(reply)
		}
		o.say(reply, resume, onCancel)
	})
}

func (o *Orchestrator) startSteps() {
	o.machine.Set(RunningSteps)
	o.stepIndex = -1
	o.nextStep()
}

// nextStep presents the step after stepIndex, or finishes.
func (o *Orchestrator) nextStep() {
	o.stepIndex++
	if o.stepIndex >= o.script.Len() {
		o.finish()
		return
	}

	step := o.script.Steps[o.stepIndex]
	ctx := step.Context()
	o.step = &ctx
	o.emitStep(&ctx)
	o.setHighlight(step.DetectionClass)
	o.machine.Set(RunningSteps)
	o.logger.Info("step", "index", o.stepIndex, "title", step.StepTitle)

	awaitUser := func() { o.machine.Set(StepAwaitingUserInput) }
	o.say(step.SpokenText(), func() {
		proceed := func() {
			if step.RequiresConfirmation {
				awaitUser()
				return
			}
			o.nextStep()
		}
		if wait := time.Duration(step.MinDurationSeconds * float64(time.Second)); wait > 0 {
			o.after(wait, proceed)
			return
		}
		proceed()
	}, awaitUser)
}

func (o *Orchestrator) finish() {
	o.step = nil
	o.emitStep(nil)
	o.setHighlight("")
	o.machine.Set(Completed)

	idle := func() {
		o.emitCompleted()
		o.machine.Set(IdleQnA)
	}
	o.say(o.script.Completion, idle, idle)
}

func (o *Orchestrator) advance() {
	if o.machine.State() != StepAwaitingUserInput {
		return
	}
	o.machine.Set(RunningSteps)
	o.nextStep()
}

// logVerdict records the status token of a confirmation reply. The flow
// continues either way.
func (o *Orchestrator) logVerdict(reply string) {
	verdict, _ := reasoning.ParseVerdict(reply)
	o.logger.Info("confirmation", "turn", o.turnID, "verdict", verdict.String())
}
