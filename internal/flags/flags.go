package flags

import (
	"encoding/json"
	"os"
	"sync"
)

// Flags holds runtime-togglable feature flags for the ingestion workers.
// Defaults are conservative; can be overridden via env or the admin endpoint.
type Flags struct {
	EnableCrawl      bool `json:"enable_crawl"`
	EnableRegionSweep bool `json:"enable_region_sweep"`
	EnableEmbedding  bool `json:"enable_embedding"`
	EnableUpdateQueue bool `json:"enable_update_queue"`
	ReadOnlyMode     bool `json:"read_only_mode"`
}

var (
	current Flags
	mu      sync.RWMutex
)

func init() {
	// Initialize from environment with sensible defaults
	current = Flags{
		EnableCrawl:       getBool("ENABLE_CRAWL", true),
		EnableRegionSweep: getBool("ENABLE_REGION_SWEEP", true),
		EnableEmbedding:   getBool("ENABLE_EMBEDDING", true),
		EnableUpdateQueue: getBool("ENABLE_UPDATE_QUEUE", true),
		ReadOnlyMode:      getBool("READ_ONLY_MODE", false),
	}
}

func getBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" || v == "True" {
		return true
	}
	return false
}

// Get returns a copy of the current flags snapshot.
func Get() Flags {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Set replaces the current flags with the provided value.
func Set(f Flags) {
	mu.Lock()
	defer mu.Unlock()
	current = f
}

// UpdateFromJSON merges provided JSON bytes into current flags.
func UpdateFromJSON(b []byte) error {
	mu.Lock()
	defer mu.Unlock()
	var incoming map[string]any
	if err := json.Unmarshal(b, &incoming); err != nil {
		return err
	}
	// Merge known keys only
	if v, ok := incoming["enable_crawl"].(bool); ok {
		current.EnableCrawl = v
	}
	if v, ok := incoming["enable_region_sweep"].(bool); ok {
		current.EnableRegionSweep = v
	}
	if v, ok := incoming["enable_embedding"].(bool); ok {
		current.EnableEmbedding = v
	}
	if v, ok := incoming["enable_update_queue"].(bool); ok {
		current.EnableUpdateQueue = v
	}
	if v, ok := incoming["read_only_mode"].(bool); ok {
		current.ReadOnlyMode = v
	}
	return nil
}
