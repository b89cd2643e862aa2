package replay

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/golang/snappy"
)

// TimelineEntry represents a single replayed round event ready for deterministic iteration.
type TimelineEntry struct {
	Round      int
	CapturedAt time.Time
	Type       string
	Payload    json.RawMessage
}

// Loader rehydrates a compressed event log for post-hoc inspection.
type Loader struct {
	entries []TimelineEntry
}

// Load reads the snappy-compressed JSONL event log produced by a Writer.
func Load(path string) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("replay path must be provided")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var entries []TimelineEntry
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record struct {
			Round      int    `json:"round"`
			CapturedAt string `json:"captured_at"`
			Type       string `json:"type"`
			PayloadB64 string `json:"payload_b64"`
		}
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("decode event line: %w", err)
		}
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse captured_at: %w", err)
		}
		payload, err := base64.StdEncoding.DecodeString(record.PayloadB64)
		if err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		//1.- Rehydrate each round event in the order it was appended.
		entries = append(entries, TimelineEntry{
			Round:      record.Round,
			CapturedAt: captured,
			Type:       record.Type,
			Payload:    json.RawMessage(payload),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Round == entries[j].Round {
			return entries[i].CapturedAt.Before(entries[j].CapturedAt)
		}
		return entries[i].Round < entries[j].Round
	})

	return &Loader{entries: entries}, nil
}

// Replay iterates over the loaded entries in deterministic order.
func (l *Loader) Replay(apply func(TimelineEntry) error) error {
	if l == nil {
		return fmt.Errorf("loader not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range l.entries {
		//1.- Invoke the callback for each timeline entry to drive post-hoc inspection.
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

// Entries exposes a defensive copy of the timeline for external assertions.
func (l *Loader) Entries() []TimelineEntry {
	if l == nil {
		return nil
	}
	out := make([]TimelineEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
