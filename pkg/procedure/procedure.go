// Package procedure defines the guided procedure a session walks through:
// the ordered demo steps plus the fixed messages the assistant speaks.
package procedure

// StepContext describes the step currently being worked on.
// A nil *StepContext means no step is active.
type StepContext struct {
	ProcedureTitle string `json:"procedure_title"`
	StepTitle      string `json:"step_title"`
	StepBody       string `json:"step_body"`
}

// DemoStep is one element of a Script. Steps are immutable once loaded.
type DemoStep struct {
	ProcedureTitle string `yaml:"procedure_title" json:"procedure_title" validate:"required"`
	StepTitle      string `yaml:"step_title" json:"step_title" validate:"required"`
	StepBody       string `yaml:"step_body" json:"step_body"`

	// AssistantScript is what gets spoken. StepBody is spoken when empty.
	AssistantScript string `yaml:"assistant_script" json:"assistant_script"`

	// DetectionClass is the object class relevant to this step, if any.
	DetectionClass string `yaml:"detection_class" json:"detection_class"`

	MinDurationSeconds   float64 `yaml:"min_duration_seconds" json:"min_duration_seconds" validate:"gte=0"`
	RequiresConfirmation bool    `yaml:"requires_confirmation" json:"requires_confirmation"`
}

// Context returns the step context for s.
func (s DemoStep) Context() StepContext {
	return StepContext{
		ProcedureTitle: s.ProcedureTitle,
		StepTitle:      s.StepTitle,
		StepBody:       s.StepBody,
	}
}

// SpokenText returns the text to speak for the step.
func (s DemoStep) SpokenText() string {
	if s.AssistantScript != "" {
		return s.AssistantScript
	}
	return s.StepBody
}

// Script is the full procedure definition for one run.
type Script struct {
	Title string     `yaml:"title" json:"title"`
	Steps []DemoStep `yaml:"steps" json:"steps" validate:"dive"`

	Greeting      string `yaml:"greeting" json:"greeting" validate:"required"`
	FirstResponse string `yaml:"first_response" json:"first_response" validate:"required"`
	Completion    string `yaml:"completion" json:"completion" validate:"required"`
	Error         string `yaml:"error" json:"error" validate:"required"`
}

// Messages are the four template strings of a Script.
type Messages struct {
	Greeting      string
	FirstResponse string
	Completion    string
	Error         string
}

// DefaultMessages returns the built-in template strings.
func DefaultMessages() Messages {
	return Messages{
		Greeting:      "Hi, I'm your maintenance assistant. Say something when you're ready to begin.",
		FirstResponse: "Before we start, make sure the machine is powered off and you are wearing your safety gear.",
		Completion:    "That's every step. Nice work. I'm still here if you have questions.",
		Error:         "Sorry, I couldn't get an answer to that right now. Please try again.",
	}
}

// ApplyDefaults fills empty message strings from DefaultMessages.
func (s *Script) ApplyDefaults() {
	d := DefaultMessages()
	if s.Greeting == "" {
		s.Greeting = d.Greeting
	}
	if s.FirstResponse == "" {
		s.FirstResponse = d.FirstResponse
	}
	if s.Completion == "" {
		s.Completion = d.Completion
	}
	if s.Error == "" {
		s.Error = d.Error
	}
	for i := range s.Steps {
		if s.Steps[i].ProcedureTitle == "" {
			s.Steps[i].ProcedureTitle = s.Title
		}
	}
}

// Len returns the number of steps.
func (s *Script) Len() int {
	return len(s.Steps)
}

// Default returns a small built-in script used when nothing else is configured.
func Default() *Script {
	const title = "Wheel change"
	m := DefaultMessages()
	return &Script{
		Title:         title,
		Greeting:      m.Greeting,
		FirstResponse: m.FirstResponse,
		Completion:    m.Completion,
		Error:         m.Error,
		Steps: []DemoStep{
			{
				ProcedureTitle:  title,
				StepTitle:       "Loosen the lug nuts",
				StepBody:        "Loosen each lug nut half a turn while the wheel is still on the ground.",
				AssistantScript: "First, loosen each lug nut about half a turn. Keep the wheel on the ground for now.",
				DetectionClass:  "wrench",
			},
			{
				ProcedureTitle:       title,
				StepTitle:            "Raise the vehicle",
				StepBody:             "Place the jack under the lift point and raise the vehicle until the tire clears the ground.",
				DetectionClass:       "jack",
				MinDurationSeconds:   2,
				RequiresConfirmation: true,
			},
			{
				ProcedureTitle: title,
				StepTitle:      "Swap the wheel",
				StepBody:       "Remove the nuts, swap the wheel, and hand-tighten the nuts in a star pattern.",
			},
		},
	}
}
