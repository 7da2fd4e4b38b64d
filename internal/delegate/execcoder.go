package delegate

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/forgehq/forge/internal/errors"
)

// CommandCoder runs an external executor command as the execution capability.
// The instruction is written to the command's stdin; stdout lines stream back
// as text updates; a zero exit code means the attempt succeeded. Lines of the
// form "FILE_CREATED: path" are collected into the result's file list.
type CommandCoder struct {
	// Command is the executable and its fixed arguments.
	Command []string
}

const fileCreatedPrefix = "FILE_CREATED:"

// NewCommandCoder creates a CommandCoder.
func NewCommandCoder(command []string) (*CommandCoder, error) {
	if len(command) == 0 {
		return nil, errors.NewValidationError("executor command is required").WithField("command")
	}
	return &CommandCoder{Command: command}, nil
}

// Execute implements Coder.
func (c *CommandCoder) Execute(ctx context.Context, instruction string, emit func(Update)) (*CoderResult, error) {
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Stdin = strings.NewReader(instruction)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "open executor stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start executor")
	}

	var output strings.Builder
	var files []string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, fileCreatedPrefix); ok {
			files = append(files, strings.TrimSpace(rest))
			continue
		}
		output.WriteString(line)
		output.WriteString("\n")
		emit(Update{Text: line + "\n"})
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	if scanErr != nil {
		return nil, errors.Wrap(scanErr, "read executor output")
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		return &CoderResult{
			Success:      false,
			Output:       output.String(),
			FilesCreated: files,
			ErrorMessage: msg,
		}, nil
	}

	return &CoderResult{
		Success:      true,
		Output:       output.String(),
		FilesCreated: files,
	}, nil
}

var _ Coder = (*CommandCoder)(nil)
