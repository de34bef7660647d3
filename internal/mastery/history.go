package mastery

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// HistoryWriter appends completed Executions to a JSONL file in batches,
// grounded on the teacher's BatchWriter design philosophy
// (internal/storage/wal/batch_writer.go: accumulate, flush on size
// threshold or periodic timer, trade latency for fewer fsyncs) — the
// teacher's own BatchWriter is left as an unimplemented sketch (every
// method is a TODO stub), so this is a from-scratch implementation of that
// design rather than an adaptation of working code.
type HistoryWriter struct {
	path          string
	maxBatchSize  int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []*Execution
	file   *os.File

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHistoryWriter opens (creating if necessary) path for appending and
// starts its periodic flush loop.
func NewHistoryWriter(path string, maxBatchSize int, flushInterval time.Duration) (*HistoryWriter, error) {
	if maxBatchSize <= 0 {
		maxBatchSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mastery: open history file: %w", err)
	}

	w := &HistoryWriter{
		path:          path,
		maxBatchSize:  maxBatchSize,
		flushInterval: flushInterval,
		file:          f,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go w.flushLoop()
	return w, nil
}

// Append buffers exec, flushing immediately if the batch is full.
func (w *HistoryWriter) Append(exec *Execution) error {
	w.mu.Lock()
	w.buffer = append(w.buffer, exec)
	full := len(w.buffer) >= w.maxBatchSize
	w.mu.Unlock()

	if full {
		return w.Flush()
	}
	return nil
}

// Flush writes every buffered Execution to disk and fsyncs once.
func (w *HistoryWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *HistoryWriter) flushLocked() error {
	if len(w.buffer) == 0 {
		return nil
	}
	enc := json.NewEncoder(w.file)
	for _, exec := range w.buffer {
		if err := enc.Encode(toExecutionRecord(exec)); err != nil {
			return fmt.Errorf("mastery: write history record: %w", err)
		}
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("mastery: fsync history file: %w", err)
	}
	w.buffer = w.buffer[:0]
	return nil
}

func (w *HistoryWriter) flushLoop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				log.Error("history flush failed", "error", err, "path", w.path)
			}
		case <-w.stopCh:
			return
		}
	}
}

// Close stops the flush loop, writes any remaining buffered executions,
// and closes the underlying file. It does not close any resource it did
// not open itself.
func (w *HistoryWriter) Close() error {
	close(w.stopCh)
	<-w.doneCh
	if err := w.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// executionRecord is the JSON-serializable projection of an Execution;
// *task.Task carries an unexported mutex and must not be marshalled
// directly.
type executionRecord struct {
	ID        string                    `json:"id"`
	PlanName  string                    `json:"plan_name"`
	Status    ExecutionStatus           `json:"status"`
	Steps     map[string]stepRecord     `json:"steps"`
	StartedAt time.Time                 `json:"started_at"`
	EndedAt   time.Time                 `json:"ended_at"`
}

type stepRecord struct {
	Status    StepStatus `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
}

func toExecutionRecord(exec *Execution) executionRecord {
	rec := executionRecord{
		ID:        exec.ID,
		PlanName:  exec.PlanName,
		Status:    exec.Status,
		Steps:     make(map[string]stepRecord, len(exec.Steps)),
		StartedAt: exec.StartedAt,
		EndedAt:   exec.EndedAt,
	}
	for name, s := range exec.Steps {
		rec.Steps[name] = stepRecord{Status: s.Status, StartedAt: s.StartedAt, EndedAt: s.EndedAt}
	}
	return rec
}
