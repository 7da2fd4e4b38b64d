package stream

import (
	"strings"

	"github.com/forgehq/forge/internal/errors"
)

// DefaultChunkSize is the delta size used by StreamFile.
const DefaultChunkSize = 512

// Sequencing errors returned by FileStreamer.
var (
	ErrStreamNotStarted     = errors.New("stream: file stream not started")
	ErrStreamAlreadyStarted = errors.New("stream: file stream already started")
	ErrStreamCompleted      = errors.New("stream: file stream already completed")
)

// FileStreamer emits the start, delta, complete sequence for one file. It
// enforces the per-path ordering: exactly one start, then deltas, then
// exactly one complete carrying the full accumulated content.
type FileStreamer struct {
	emitter    *Emitter
	path       string
	language   string
	isNew      bool
	toolCallID string

	started   bool
	completed bool
	content   strings.Builder
}

// NewFileStreamer creates a FileStreamer for the given path.
func NewFileStreamer(emitter *Emitter, path, language string, isNew bool, toolCallID string) *FileStreamer {
	return &FileStreamer{
		emitter:    emitter,
		path:       path,
		language:   language,
		isNew:      isNew,
		toolCallID: toolCallID,
	}
}

// Start emits the file-stream-start event. It must be called exactly once,
// before any Write.
func (f *FileStreamer) Start() error {
	if f.started {
		return ErrStreamAlreadyStarted
	}
	f.started = true
	return f.emitter.Emit(NewFileStreamStartEvent(f.path, f.language, f.isNew, f.toolCallID))
}

// Write emits one delta and accumulates it into the final content.
// Empty deltas are skipped.
func (f *FileStreamer) Write(delta string) error {
	if !f.started {
		return ErrStreamNotStarted
	}
	if f.completed {
		return ErrStreamCompleted
	}
	if delta == "" {
		return nil
	}
	f.content.WriteString(delta)
	return f.emitter.Emit(NewFileStreamDeltaEvent(f.path, delta, f.toolCallID))
}

// Complete emits the file-stream-complete event with the concatenation of
// every delta written so far. It must be called exactly once, after Start.
func (f *FileStreamer) Complete() error {
	if !f.started {
		return ErrStreamNotStarted
	}
	if f.completed {
		return ErrStreamCompleted
	}
	f.completed = true
	return f.emitter.Emit(NewFileStreamCompleteEvent(f.path, f.content.String(), f.language, f.isNew, f.toolCallID))
}

// Content returns the accumulated file content.
func (f *FileStreamer) Content() string {
	return f.content.String()
}

// StreamFile emits the full start, delta, complete sequence for content that
// is already known, chunked into deltas of at most chunkSize bytes.
func StreamFile(emitter *Emitter, path, content, language string, isNew bool, toolCallID string, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	fs := NewFileStreamer(emitter, path, language, isNew, toolCallID)
	if err := fs.Start(); err != nil {
		return err
	}
	for len(content) > 0 {
		n := chunkSize
		if n > len(content) {
			n = len(content)
		}
		if err := fs.Write(content[:n]); err != nil {
			return err
		}
		content = content[n:]
	}
	return fs.Complete()
}
