package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/quollsec/strongbox/pkg/idx"
)

// FileSink appends one JSON record per line to a log file opened with
// O_APPEND. A mutex serializes writers so records are never interleaved
// and timestamps never go backwards.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	last time.Time
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open log file: %w", err)
	}
	return &FileSink{f: f, enc: json.NewEncoder(f)}, nil
}

func (s *FileSink) Append(_ context.Context, actor, action string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	// Clamp against clock steps so write order and timestamp order agree.
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now

	ev := Event{
		ID:        idx.New().String(),
		Timestamp: now,
		Actor:     actor,
		Action:    action,
		Metadata:  metadata,
	}
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("audit: failed to append event: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
