package delegate

import (
	"fmt"
	"strings"

	"github.com/forgehq/forge/internal/session"
)

// phaseInstructions maps each build phase to the briefing its executor
// receives. The generic fallback covers tasks whose phase is unknown.
var phaseInstructions = map[session.Phase]string{
	session.PhaseSetup: "Set up the project workspace. Create the directory layout, " +
		"initialize package management, and install the declared dependencies. " +
		"Do not write application code in this phase.",
	session.PhaseInitialize: "Initialize the application skeleton. Create entry points, " +
		"base configuration, and routing scaffolding so the project starts cleanly, " +
		"without implementing feature logic.",
	session.PhaseImplement: "Implement the described feature completely. Write the " +
		"components, state handling, and supporting modules the description calls for, " +
		"consistent with the files already in the workspace.",
	session.PhaseBuild: "Run the project's build and fix every error until it compiles " +
		"cleanly. Do not add features; only repair what the build reports.",
	session.PhasePreview: "Start the development server and verify the application " +
		"serves without runtime errors. Report the preview URL.",
}

const genericInstruction = "Complete the described task in the project workspace, " +
	"keeping changes consistent with the existing files."

// BuildInstruction assembles the executor briefing for one task: the phase
// briefing, the execution tier, the task description, and any extra
// requirements.
func BuildInstruction(phase session.Phase, tier session.Tier, description string, requirements []string) string {
	briefing, ok := phaseInstructions[phase]
	if !ok {
		briefing = genericInstruction
	}

	var b strings.Builder
	b.WriteString(briefing)
	if tier != "" {
		fmt.Fprintf(&b, "\n\nExecution tier: %s", tier)
	}
	b.WriteString("\n\nTask: ")
	b.WriteString(description)
	if len(requirements) > 0 {
		b.WriteString("\n\nRequirements:\n")
		for _, r := range requirements {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}
