// Package config parses the model configuration consumed by the lookup
// manager: table locations, row widths, batch sizing, replica layout and
// the epoch/iteration counts used for reporting cadence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Key widths supported for table key files.
const (
	KeyWidth32 = 4
	KeyWidth64 = 8
)

// TableConfig describes one embedding table of a model.
type TableConfig struct {
	Name string `json:"name"`
	// Path is the table directory (containing "key" and "emb_vector"
	// files) or a synthetic "mock_<numKeys>_<vecSize>" tag.
	Path string `json:"path"`
	// KeyWidth is the in-memory key width in bytes (4 or 8). Key files
	// always store 8-byte values; narrower widths are narrowed on load.
	KeyWidth int `json:"key_width"`
	// EmbeddingVecSize is the row width in floats.
	EmbeddingVecSize int `json:"embedding_vec_size"`
}

// ModelEntry describes one deployed model.
type ModelEntry struct {
	Model           string        `json:"model"`
	Tables          []TableConfig `json:"tables"`
	MaxBatchSize    int           `json:"max_batch_size"`
	DefaultValue    float32       `json:"default_value"`
	DeployedDevices []int         `json:"deployed_devices"`
}

// ModelConfig is the parsed serving configuration.
type ModelConfig struct {
	Models             []ModelEntry `json:"models"`
	NumReplicas        int          `json:"num_replicas"`
	Epochs             int          `json:"epochs"`
	IterationsPerEpoch int          `json:"iterations_per_epoch"`

	normalizedFor int
}

// Load reads and validates a model configuration file.
func Load(path string) (*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a model configuration from JSON.
func Parse(data []byte) (*ModelConfig, error) {
	cfg := &ModelConfig{normalizedFor: -1}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ModelConfig) validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("config: no models configured")
	}
	if c.NumReplicas <= 0 {
		return fmt.Errorf("config: num_replicas must be positive, got %d", c.NumReplicas)
	}
	for _, m := range c.Models {
		if m.Model == "" {
			return fmt.Errorf("config: model with empty name")
		}
		if len(m.Tables) == 0 {
			return fmt.Errorf("config: model %q has no tables", m.Model)
		}
		for i, tb := range m.Tables {
			if tb.EmbeddingVecSize <= 0 {
				return fmt.Errorf("config: model %q table %d: embedding_vec_size must be positive", m.Model, i)
			}
			switch tb.KeyWidth {
			case 0, KeyWidth32, KeyWidth64:
			default:
				return fmt.Errorf("config: model %q table %d: key_width must be %d or %d", m.Model, i, KeyWidth32, KeyWidth64)
			}
		}
	}
	return nil
}

// NormalizeForWorker adjusts the configuration for the calling worker's
// shard: table paths may contain a "{worker}" placeholder, and the deployed
// device list is restricted to the worker's own slot. Idempotent for the
// same worker id.
func (c *ModelConfig) NormalizeForWorker(workerID int) error {
	if c.normalizedFor == workerID {
		return nil
	}
	if c.normalizedFor >= 0 {
		return fmt.Errorf("config: already normalized for worker %d", c.normalizedFor)
	}
	if workerID < 0 || workerID >= c.NumReplicas {
		return fmt.Errorf("config: worker id %d out of range [0,%d)", workerID, c.NumReplicas)
	}

	worker := fmt.Sprintf("%d", workerID)
	for mi := range c.Models {
		m := &c.Models[mi]
		for ti := range m.Tables {
			m.Tables[ti].Path = strings.ReplaceAll(m.Tables[ti].Path, "{worker}", worker)
		}
		if len(m.DeployedDevices) > workerID {
			m.DeployedDevices = []int{m.DeployedDevices[workerID]}
		}
	}
	c.normalizedFor = workerID
	return nil
}

// Model returns the entry for the named model, or nil if absent.
func (c *ModelConfig) Model(name string) *ModelEntry {
	for i := range c.Models {
		if c.Models[i].Model == name {
			return &c.Models[i]
		}
	}
	return nil
}

// Table returns the table config for (model, tableID), or nil if absent.
func (c *ModelConfig) Table(model string, tableID int32) *TableConfig {
	m := c.Model(model)
	if m == nil {
		return nil
	}
	if tableID < 0 || int(tableID) >= len(m.Tables) {
		return nil
	}
	return &m.Tables[tableID]
}

// KeyWidthOrDefault returns the configured key width, defaulting to 64-bit.
func (t *TableConfig) KeyWidthOrDefault() int {
	if t.KeyWidth == 0 {
		return KeyWidth64
	}
	return t.KeyWidth
}
