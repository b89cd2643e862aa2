// Package replay persists a battle's round-by-round events to disk for
// post-hoc inspection, independent of the live protocol session.
package replay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var writerMatchCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Writer streams round events to a snappy-compressed JSONL log and closes
// with a zstd-compressed summary blob.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	headerSeed  string
	hostName    string
	joinerName  string
	roundCount  int
	lastType    string
}

// Manifest describes the replay bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version    int    `json:"version"`
	CreatedAt  string `json:"created_at"`
	EventsPath string `json:"events_path"`
	SummaryPath string `json:"summary_path"`
}

// Summary captures aggregate statistics written when the writer closes.
type Summary struct {
	RoundCount    int    `json:"round_count"`
	LastEventType string `json:"last_event_type"`
	ClosedAt      string `json:"closed_at"`
}

// NewWriter prepares the replay directory and opens the compressed event sink.
func NewWriter(root, matchID string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := writerMatchCleaner.ReplaceAllString(matchID, "")
	if cleaned == "" {
		cleaned = "match"
	}
	created := clock().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(root, folder)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventsPath := filepath.Join(path, "events.jsonl.sz")
	manifestPath := filepath.Join(path, "manifest.json")

	eventFile, err := os.Create(eventsPath)
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	manifest := Manifest{
		Version:     1,
		CreatedAt:   created.Format(time.RFC3339Nano),
		EventsPath:  "events.jsonl.sz",
		SummaryPath: "summary.json.zst",
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	writer := &Writer{
		dir:         path,
		now:         clock,
		eventFile:   eventFile,
		eventStream: eventStream,
	}

	return writer, manifest, nil
}

// Directory exposes the directory backing the replay bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendEvent writes a single JSON event line to the compressed event log.
func (w *Writer) AppendEvent(round int, eventType string, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()

	//1.- Encode the round event with metadata so downstream JSONL parsers can stream it safely.
	record := struct {
		Round      int    `json:"round"`
		CapturedAt string `json:"captured_at"`
		Type       string `json:"type"`
		PayloadB64 string `json:"payload_b64"`
	}{
		Round:      round,
		CapturedAt: captured.Format(time.RFC3339Nano),
		Type:       eventType,
		PayloadB64: base64.StdEncoding.EncodeToString(payload),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := w.eventStream.Write(line); err != nil {
		return err
	}
	if _, err := w.eventStream.Write([]byte("\n")); err != nil {
		return err
	}
	//2.- Track the rolling summary so Close can persist it without rereading the log.
	w.roundCount++
	w.lastType = eventType
	return w.eventStream.Flush()
}

// SetHeaderMetadata configures the header persisted alongside the replay bundle.
func (w *Writer) SetHeaderMetadata(seed, hostName, joinerName string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.headerSeed = seed
	w.hostName = hostName
	w.joinerName = joinerName
	w.mu.Unlock()
}

// Close flushes the event log, writes the header and summary, and releases handles.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	headerPath := filepath.Join(w.dir, "header.json")
	header := Header{
		SchemaVersion: HeaderSchemaVersion,
		MatchSeed:     w.headerSeed,
		HostName:      w.hostName,
		JoinerName:    w.joinerName,
		FilePointer:   "manifest.json",
	}
	//1.- Persist the metadata header before dismantling the streaming sinks.
	if err := WriteHeader(headerPath, header); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.eventStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	//2.- Write the zstd-compressed closing summary so tooling can sanity-check a bundle
	// without decompressing the full event log.
	if err := writeSummary(w.dir, Summary{
		RoundCount:    w.roundCount,
		LastEventType: w.lastType,
		ClosedAt:      w.now().UTC().Format(time.RFC3339Nano),
	}); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func writeSummary(dir string, summary Summary) error {
	path := filepath.Join(dir, "summary.json.zst")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	enc, err := zstd.NewWriter(file)
	if err != nil {
		return err
	}
	data, err := json.Marshal(summary)
	if err != nil {
		enc.Close()
		return err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadSummary decodes a zstd-compressed closing summary written by Close.
func ReadSummary(path string) (Summary, error) {
	file, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer file.Close()
	dec, err := zstd.NewReader(file)
	if err != nil {
		return Summary{}, err
	}
	defer dec.Close()
	var summary Summary
	if err := json.NewDecoder(dec).Decode(&summary); err != nil {
		return Summary{}, err
	}
	return summary, nil
}
