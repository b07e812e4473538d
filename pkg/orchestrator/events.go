package orchestrator

import "github.com/dvegas03/MechAI/pkg/detection"

// event is anything handled on the conversation loop.
type event interface{ isEvent() }

type (
	evStart     struct{}
	evAdvance   struct{}
	evUtterance struct{ text string }

	evDetections struct{ set detection.Set }

	// evSpeechDone resolves a say() suspend point. Cancelled is a resolution,
	// not an error.
	evSpeechDone struct {
		id        string
		cancelled bool
	}

	// evReasoningDone resolves a reason() suspend point.
	evReasoningDone struct {
		seq   uint64
		reply string
		err   error
	}

	evTimer struct{ seq uint64 }

	// evFunc runs fn on the loop.
	evFunc struct{ fn func() }
)

func (evStart) isEvent()         {}
func (evAdvance) isEvent()       {}
func (evUtterance) isEvent()     {}
func (evDetections) isEvent()    {}
func (evSpeechDone) isEvent()    {}
func (evReasoningDone) isEvent() {}
func (evTimer) isEvent()         {}
func (evFunc) isEvent()          {}
