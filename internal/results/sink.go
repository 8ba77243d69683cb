package results

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/refinelab/refinery/internal/types"
)

// JSONLSink appends run results to a JSONL file through a single writer
// goroutine, so concurrent sweep cells never interleave partial lines.
type JSONLSink struct {
	file *os.File
	ch   chan types.RunResult

	wg       sync.WaitGroup
	closeOne sync.Once
	mu       sync.Mutex
	writeErr error
}

// NewJSONLSink opens (or creates) the file at path for appending and starts
// the writer goroutine.
func NewJSONLSink(path string) (*JSONLSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}

	s := &JSONLSink{
		file: file,
		ch:   make(chan types.RunResult, 64),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// Write queues one result for appending. Safe for concurrent use. Write
// after Close panics, like any send on a closed channel; the sweep runner
// closes the sink only after all cells have finished.
func (s *JSONLSink) Write(r types.RunResult) {
	s.ch <- r
}

// Close drains queued results, flushes the file, and reports the first write
// error encountered, if any.
func (s *JSONLSink) Close() error {
	s.closeOne.Do(func() {
		close(s.ch)
	})
	s.wg.Wait()

	closeErr := s.file.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	return closeErr
}

func (s *JSONLSink) writeLoop() {
	defer s.wg.Done()
	enc := json.NewEncoder(s.file)

	for r := range s.ch {
		if err := enc.Encode(r); err != nil {
			s.mu.Lock()
			if s.writeErr == nil {
				s.writeErr = fmt.Errorf("failed to append result for %s: %w", r.Key, err)
			}
			s.mu.Unlock()
		}
	}
}
