package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HeaderSchemaVersion tracks the schema version for replay header documents.
const HeaderSchemaVersion = 1

// Header represents the metadata persisted alongside a battle replay artefact.
type Header struct {
	SchemaVersion int    `json:"schema_version"`
	MatchSeed     string `json:"match_seed"`
	HostName      string `json:"host_name,omitempty"`
	JoinerName    string `json:"joiner_name,omitempty"`
	FilePointer   string `json:"file_pointer"`
}

// Validate ensures the header contains enough information for loader tooling.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	//1.- Ensure loader tooling can locate the replay artefact reliably.
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	return nil
}

// WriteHeader persists the supplied header to the provided file path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	//1.- Encode using indented JSON so manual inspection remains readable.
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	//2.- Ensure the directory hierarchy exists even when tooling supplies nested paths.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	//3.- Terminate with a newline so POSIX tooling can append easily.
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and decodes a replay header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, err
	}
	//1.- Reuse validation so callers receive consistent error semantics.
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}
