package vm

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the VM's tunable ambient settings (spec's non-functional
// knobs: recursion limit, GC hinting threshold, inline cache size; debug
// verbosity is set separately through WithProfiling),
// loadable from YAML the way the teacher's profiling/tuning knobs are
// loaded from its own config surface.
type Config struct {
	MaxRecursionDepth int `yaml:"max_recursion_depth"`
	// CycleCollectThreshold is how many MarkPotentialCycle hints accumulate
	// before a host embedding is advised to run an opportunistic tracing
	// sweep (spec §5). The VM itself never forces a collection and never
	// reads this field: Heap.PotentialCycle is a single flag, not a count.
	CycleCollectThreshold int `yaml:"cycle_collect_threshold"`
	// InlineCacheSize bounds how many distinct (code, ip) sites get a
	// monomorphic cache slot before older entries are evicted.
	InlineCacheSize int `yaml:"inline_cache_size"`
}

// DefaultConfig mirrors CPython's default sys.setrecursionlimit(1000).
func DefaultConfig() *Config {
	return &Config{
		MaxRecursionDepth:     1000,
		CycleCollectThreshold: 700,
		InlineCacheSize:       4096,
	}
}

// LoadConfigYAML reads a Config from a YAML document, overlaying onto the
// defaults for any field the document omits.
func LoadConfigYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
