package orchestrator

import (
	"strings"
	"unicode"
)

// Intent is the reasoning mode an utterance is routed to.
type Intent int

const (
	IntentGeneral Intent = iota
	IntentConfirm
	IntentVision
)

// String returns the intent name.
func (i Intent) String() string {
	switch i {
	case IntentConfirm:
		return "confirm"
	case IntentVision:
		return "vision"
	default:
		return "general"
	}
}

// DefaultVisionKeywords route an utterance to an image check.
func DefaultVisionKeywords() []string {
	return []string{
		"look", "see", "camera", "picture", "photo", "image",
		"what is this", "what's this", "does this look", "can you see", "show",
	}
}

// DefaultConfirmKeywords route an utterance to step confirmation.
func DefaultConfirmKeywords() []string {
	return []string{
		"done", "finished", "ready", "next", "complete", "completed",
		"did it", "is that right", "is this right", "move on", "continue",
	}
}

// Route picks the reasoning mode for text. Vision keywords win over
// confirmation keywords. Keywords match whole words or whole phrases,
// case-insensitively.
func Route(text string, vision, confirm []string) Intent {
	norm := " " + normalize(text) + " "
	if containsAny(norm, vision) {
		return IntentVision
	}
	if containsAny(norm, confirm) {
		return IntentConfirm
	}
	return IntentGeneral
}

func containsAny(norm string, keywords []string) bool {
	for _, kw := range keywords {
		k := normalize(kw)
		if k == "" {
			continue
		}
		if strings.Contains(norm, " "+k+" ") {
			return true
		}
	}
	return false
}

// normalize lowercases s and collapses everything except letters, digits
// and apostrophes to single spaces.
func normalize(s string) string {
	var sb strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			sb.WriteRune(r)
			space = false
			continue
		}
		if !space {
			sb.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(sb.String())
}
