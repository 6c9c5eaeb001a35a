package fsbackend

import (
	"encoding/json"
	"fmt"
)

// ManifestFileName is written alongside every batch transfer and accounts
// for the +1 in batch transfer counts.
const ManifestFileName = "MANIFEST"

// manifestVersion guards against incompatible future layouts.
const manifestVersion = 1

// Manifest describes one batch transfer.
type Manifest struct {
	Version int             `json:"version"`
	Files   []ManifestEntry `json:"files"`
}

// ManifestEntry describes one transferred data file.
type ManifestEntry struct {
	// Name is the file name relative to the transfer directory, without
	// any compression suffix.
	Name string `json:"name"`
	// Size is the uncompressed byte size.
	Size int64 `json:"size"`
	// Compressed marks files stored with the ".zst" suffix remotely.
	Compressed bool `json:"compressed,omitempty"`
}

func encodeManifest(m *Manifest) ([]byte, error) {
	m.Version = manifestVersion
	return json.MarshalIndent(m, "", "  ")
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("fsbackend: parse manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("fsbackend: unsupported manifest version %d", m.Version)
	}
	return &m, nil
}
