// Package reasoning asks a language model about the procedure in progress.
//
// Client is what the conversation uses: general questions, step confirmation
// and image checks. Assistant implements it over any Backend, which is a
// single-shot completion against a concrete API (OpenAI-compatible HTTP or
// Gemini).
//
// Example usage:
//
//	backend, _ := reasoning.NewOpenAI(
//	    reasoning.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    reasoning.WithModel("gpt-4o-mini"),
//	)
//	assistant, _ := reasoning.NewAssistant(backend, reasoning.WithImageInterval(30*time.Second))
//
//	reply, err := assistant.ConfirmStep(ctx, step, "I think the bolts are out")
package reasoning

import (
	"context"
	"strings"

	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/procedure"
)

// ImageCheckDisabled is returned by CheckImage inside the rate-limit interval.
const ImageCheckDisabled = "Image checking is temporarily disabled. Please try again in a moment."

// Client is the reasoning interface used by the conversation.
type Client interface {
	// AskGeneral answers a free-form question, optionally about the current step.
	AskGeneral(ctx context.Context, userText string, step *procedure.StepContext) (string, error)

	// ConfirmStep asks whether the user may move past step. The reply is
	// expected to start with "OK:" or "WAIT:".
	ConfirmStep(ctx context.Context, step procedure.StepContext, userText string) (string, error)

	// CheckImage answers a question about a camera frame (JPEG bytes) and the
	// objects detected in it. Calls are rate limited.
	CheckImage(ctx context.Context, image []byte, userText string, step *procedure.StepContext, dets []detection.Detection) (string, error)
}

// Prompt is a single completion request.
type Prompt struct {
	System string
	User   string

	// Image is an optional JPEG.
	Image []byte
}

// Backend performs a single completion.
type Backend interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	Name() string
}

// Verdict classifies a ConfirmStep reply.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictOK
	VerdictWait
)

// String returns the status token for v.
func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "OK"
	case VerdictWait:
		return "WAIT"
	default:
		return "UNKNOWN"
	}
}

// ParseVerdict splits a reply into its status token and the remaining text.
// Replies without a token return VerdictUnknown and the trimmed reply.
func ParseVerdict(reply string) (Verdict, string) {
	s := strings.TrimSpace(reply)
	upper := strings.ToUpper(s)
	switch {
	case strings.HasPrefix(upper, "OK:"):
		return VerdictOK, strings.TrimSpace(s[3:])
	case strings.HasPrefix(upper, "WAIT:"):
		return VerdictWait, strings.TrimSpace(s[5:])
	default:
		return VerdictUnknown, s
	}
}
