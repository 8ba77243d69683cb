package results

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/refinelab/refinery/internal/types"
)

func TestJSONLSink_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	sink, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink failed: %v", err)
	}

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				sink.Write(testResult(fmt.Sprintf("t%d-%d", w, i), 3, 0.5, types.OutcomeValid))
			}
		}(w)
	}
	wg.Wait()

	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open results file: %v", err)
	}
	defer f.Close()

	// Every line must be valid JSON: no interleaved partial writes
	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r types.RunResult
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", count+1, err)
		}
		count++
	}
	if count != writers*perWriter {
		t.Errorf("expected %d lines, got %d", writers*perWriter, count)
	}
}

func TestJSONLSink_AppendsAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")

	for session := 0; session < 2; session++ {
		sink, err := NewJSONLSink(path)
		if err != nil {
			t.Fatalf("NewJSONLSink failed: %v", err)
		}
		sink.Write(testResult(fmt.Sprintf("s%d", session), 3, 0.5, types.OutcomeValid))
		if err := sink.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read results file: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("expected 2 lines across sessions, got %d", lines)
	}
}

func TestJSONLSink_CloseIsIdempotent(t *testing.T) {
	sink, err := NewJSONLSink(filepath.Join(t.TempDir(), "r.jsonl"))
	if err != nil {
		t.Fatalf("NewJSONLSink failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	// Second close must not panic or deadlock
	_ = sink.Close()
}
