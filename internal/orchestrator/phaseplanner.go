package orchestrator

import (
	"context"
	"fmt"

	"github.com/forgehq/forge/internal/session"
	"github.com/forgehq/forge/internal/taskgraph"
)

// PhasePlanner is a deterministic planning capability: the first message of a
// session becomes a standard five-phase build pipeline, later messages resume
// whatever is still pending. It stands in where no model-backed Planner is
// wired and keeps the controller loop exercisable end to end.
type PhasePlanner struct{}

// Plan implements Planner.
func (PhasePlanner) Plan(_ context.Context, s *session.Session, userMessage string) (*Plan, error) {
	if len(s.Tasks) > 0 {
		return &Plan{
			AssistantText: "Resuming the existing build.",
			ToolCalls: []ToolCall{
				{Name: ToolGetProgress},
				{Name: ToolDelegateTask},
			},
		}, nil
	}

	return &Plan{
		AssistantText: fmt.Sprintf("Planning a five-phase build for: %s", userMessage),
		ToolCalls: []ToolCall{
			{Name: ToolCreateProject, Project: &ProjectSpec{Name: "project", Template: "default"}},
			{Name: ToolCreateTaskList, Tasks: []taskgraph.CreateTaskInput{
				{ID: "setup", Phase: session.PhaseSetup, Description: "Set up the project workspace for: " + userMessage},
				{ID: "initialize", Phase: session.PhaseInitialize, Description: "Initialize the application skeleton", DependsOn: []string{"setup"}},
				{ID: "implement", Phase: session.PhaseImplement, Description: userMessage, DependsOn: []string{"initialize"}},
				{ID: "build", Phase: session.PhaseBuild, Description: "Build the project and fix compile errors", DependsOn: []string{"implement"}},
				{ID: "preview", Phase: session.PhasePreview, Description: "Start the dev server and verify it serves", DependsOn: []string{"build"}},
			}},
			{Name: ToolDelegateTask},
		},
	}, nil
}

var _ Planner = PhasePlanner{}
