package reasoning

import (
	"fmt"
	"strings"

	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/procedure"
)

const basePersona = `You are MechAI, a hands-on assistant guiding someone through a mechanical procedure.
Your replies are spoken aloud, so keep them to one to three short sentences with no lists or markdown.`

const confirmInstructions = `The user is working on the step below and is telling you about their progress.
Decide whether they can move on.
Start your reply with "OK:" if they can continue or "WAIT:" if something still needs doing, then add one short sentence.`

const imageInstructions = `You are looking at a photo from the user's camera.
Answer their question about what is visible. If the photo does not show enough, say what they should point the camera at.`

// generalPrompt builds the system prompt for free-form questions.
func generalPrompt(step *procedure.StepContext) string {
	var sb strings.Builder
	sb.WriteString(basePersona)
	writeStep(&sb, step)
	return sb.String()
}

// confirmPrompt builds the system prompt for step confirmation.
func confirmPrompt(step procedure.StepContext) string {
	var sb strings.Builder
	sb.WriteString(basePersona)
	sb.WriteString("\n\n")
	sb.WriteString(confirmInstructions)
	writeStep(&sb, &step)
	return sb.String()
}

// imagePrompt builds the system prompt for camera questions.
func imagePrompt(step *procedure.StepContext, dets []detection.Detection) string {
	var sb strings.Builder
	sb.WriteString(basePersona)
	sb.WriteString("\n\n")
	sb.WriteString(imageInstructions)
	writeStep(&sb, step)
	sb.WriteString("\n\nObjects detected in the frame: ")
	sb.WriteString(DescribeDetections(dets))
	return sb.String()
}

func writeStep(sb *strings.Builder, step *procedure.StepContext) {
	if step == nil {
		return
	}
	fmt.Fprintf(sb, "\n\nProcedure: %s\nCurrent step: %s\n%s", step.ProcedureTitle, step.StepTitle, step.StepBody)
}

// DescribeDetections renders detections as a compact sentence fragment, e.g.
// "wrench (91%, close), tire (78%)".
func DescribeDetections(dets []detection.Detection) string {
	if len(dets) == 0 {
		return "none"
	}
	parts := make([]string, len(dets))
	for i, d := range dets {
		if d.HasWorld {
			parts[i] = fmt.Sprintf("%s (%.0f%%, %s)", d.ClassName, d.Confidence*100, detection.DistanceCategory(d.World.Z))
		} else {
			parts[i] = fmt.Sprintf("%s (%.0f%%)", d.ClassName, d.Confidence*100)
		}
	}
	return strings.Join(parts, ", ")
}
