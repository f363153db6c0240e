package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/vadiminshakov/gowal"
)

const (
	segmentPrefix    = "seg_"
	segmentThreshold = 10_000
	// Segments are never pruned: the journal is the only copy of the data.
	maxSegments = 1 << 20
)

// ErrClosed is returned when writing to a closed journal.
var ErrClosed = errors.New("journal closed")

// Journal is an append-only, fsync'd record log. Several stores may share one
// journal; each writes and replays its own stream.
type Journal struct {
	mu     sync.Mutex
	wal    *gowal.Wal
	closed bool
}

// Open opens or creates the journal stored in dir.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		return nil, fmt.Errorf("journal dir is required")
	}
	w, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           segmentPrefix,
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{wal: w}, nil
}

// Append encodes v as JSON and durably appends it to stream.
func (j *Journal) Append(stream string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if err := j.wal.Write(j.wal.CurrentIndex()+1, stream, payload); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	return nil
}

// Replay calls fn with every record of stream in append order.
func (j *Journal) Replay(stream string, fn func(raw []byte) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if j.wal.CurrentIndex() == 0 {
		return nil
	}
	for msg := range j.wal.Iterator() {
		if msg.Key != stream {
			continue
		}
		if err := fn(msg.Value); err != nil {
			return fmt.Errorf("replay %s record: %w", stream, err)
		}
	}
	return nil
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.wal.Close()
}
