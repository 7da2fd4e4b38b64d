package delegate

import (
	"context"
	"strings"
	"testing"
)

func TestCommandCoderSuccess(t *testing.T) {
	coder, err := NewCommandCoder([]string{"sh", "-c", `cat > /dev/null; echo "building"; echo "FILE_CREATED: src/App.tsx"; echo "done"`})
	if err != nil {
		t.Fatalf("NewCommandCoder() error = %v", err)
	}

	var streamed []string
	result, err := coder.Execute(context.Background(), "instruction", func(u Update) {
		if u.Text != "" {
			streamed = append(streamed, u.Text)
		}
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if len(result.FilesCreated) != 1 || result.FilesCreated[0] != "src/App.tsx" {
		t.Errorf("FilesCreated = %v", result.FilesCreated)
	}
	if !strings.Contains(result.Output, "building") || !strings.Contains(result.Output, "done") {
		t.Errorf("Output = %q", result.Output)
	}
	// File marker lines are not streamed as text.
	for _, s := range streamed {
		if strings.Contains(s, "FILE_CREATED") {
			t.Errorf("file marker leaked into text stream: %q", s)
		}
	}
	if len(streamed) != 2 {
		t.Errorf("streamed %d lines, want 2", len(streamed))
	}
}

func TestCommandCoderReceivesInstruction(t *testing.T) {
	coder, err := NewCommandCoder([]string{"cat"})
	if err != nil {
		t.Fatalf("NewCommandCoder() error = %v", err)
	}

	result, err := coder.Execute(context.Background(), "build the thing", func(Update) {})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(result.Output, "build the thing") {
		t.Errorf("instruction did not reach the command's stdin: %q", result.Output)
	}
}

func TestCommandCoderFailure(t *testing.T) {
	coder, err := NewCommandCoder([]string{"sh", "-c", `cat > /dev/null; echo "partial"; echo "npm exploded" >&2; exit 1`})
	if err != nil {
		t.Fatalf("NewCommandCoder() error = %v", err)
	}

	result, err := coder.Execute(context.Background(), "instruction", func(Update) {})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Fatal("non-zero exit must fail the attempt")
	}
	if result.ErrorMessage != "npm exploded" {
		t.Errorf("ErrorMessage = %q", result.ErrorMessage)
	}
	if !strings.Contains(result.Output, "partial") {
		t.Errorf("partial output lost: %q", result.Output)
	}
}

func TestNewCommandCoderRequiresCommand(t *testing.T) {
	if _, err := NewCommandCoder(nil); err == nil {
		t.Error("empty command must be rejected")
	}
}
