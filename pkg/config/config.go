package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all index and transaction-log configuration.
type Config struct {
	Vamana VamanaConfig
	MVCC   MVCCConfig
}

// VamanaConfig holds graph-build and search configuration, one set of
// knobs per Index (the same knobs as pkg/vamana.IndexConfig; this package
// does not convert one into the other).
type VamanaConfig struct {
	DataDir    string  // directory Build persists the graph and PQ codebook under
	M          int     // max outgoing edges per vertex (default: 32)
	L          int     // search list size, build and query (default: 100)
	Alpha      float64 // robust-prune distance slack (default: 1.2)
	Subspaces  int     // PQ codebook count; dimension must divide evenly (default: 8)
	Dimensions int     // vector dimension
	Workers    int     // parallel build workers, 0 selects runtime.NumCPU()
	RandomSeed int64   // medoid/shard-order seed
}

// MVCCConfig holds the transaction log's conflict-detection and garbage
// collection tuning.
type MVCCConfig struct {
	LatchThreshold int           // ops in a transaction above which readers wait on a latch instead of spin-yielding
	GCInterval     time.Duration // period between GC.Sweep passes
	GCEnabled      bool          // whether periodic GC.Sweep passes run; pkg/mvcc starts no sweep loop of its own
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Vamana: VamanaConfig{
			DataDir:    "./data",
			M:          32,
			L:          100,
			Alpha:      1.2,
			Subspaces:  8,
			Dimensions: 768,
			Workers:    0,
			RandomSeed: 1,
		},
		MVCC: MVCCConfig{
			LatchThreshold: 10,
			GCInterval:     5 * time.Second,
			GCEnabled:      true,
		},
	}
}

// LoadFromEnv loads configuration from environment variables, falling back
// to Default for anything unset or unparsable.
func LoadFromEnv() *Config {
	cfg := Default()

	// Vamana configuration
	if dataDir := os.Getenv("VAMANA_DATA_DIR"); dataDir != "" {
		cfg.Vamana.DataDir = dataDir
	}
	if m := os.Getenv("VAMANA_M"); m != "" {
		if mVal, err := strconv.Atoi(m); err == nil {
			cfg.Vamana.M = mVal
		}
	}
	if l := os.Getenv("VAMANA_L"); l != "" {
		if lVal, err := strconv.Atoi(l); err == nil {
			cfg.Vamana.L = lVal
		}
	}
	if alpha := os.Getenv("VAMANA_ALPHA"); alpha != "" {
		if a, err := strconv.ParseFloat(alpha, 64); err == nil {
			cfg.Vamana.Alpha = a
		}
	}
	if subspaces := os.Getenv("VAMANA_SUBSPACES"); subspaces != "" {
		if s, err := strconv.Atoi(subspaces); err == nil {
			cfg.Vamana.Subspaces = s
		}
	}
	if dims := os.Getenv("VAMANA_DIMENSIONS"); dims != "" {
		if d, err := strconv.Atoi(dims); err == nil {
			cfg.Vamana.Dimensions = d
		}
	}
	if workers := os.Getenv("VAMANA_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			cfg.Vamana.Workers = w
		}
	}
	if seed := os.Getenv("VAMANA_RANDOM_SEED"); seed != "" {
		if s, err := strconv.ParseInt(seed, 10, 64); err == nil {
			cfg.Vamana.RandomSeed = s
		}
	}

	// MVCC configuration
	if threshold := os.Getenv("MVCC_LATCH_THRESHOLD"); threshold != "" {
		if t, err := strconv.Atoi(threshold); err == nil {
			cfg.MVCC.LatchThreshold = t
		}
	}
	if interval := os.Getenv("MVCC_GC_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.MVCC.GCInterval = d
		}
	}
	if enabled := os.Getenv("MVCC_GC_ENABLED"); enabled == "false" {
		cfg.MVCC.GCEnabled = false
	}

	return cfg
}

// Validate checks if the configuration is internally consistent.
func (c *Config) Validate() error {
	// Vamana validation
	if c.Vamana.DataDir == "" {
		return fmt.Errorf("vamana data directory not specified")
	}
	if c.Vamana.M < 2 || c.Vamana.M > 512 {
		return fmt.Errorf("invalid vamana M: %d (must be 2-512)", c.Vamana.M)
	}
	if c.Vamana.L < c.Vamana.M {
		return fmt.Errorf("invalid vamana L: %d (must be >= M=%d)", c.Vamana.L, c.Vamana.M)
	}
	if c.Vamana.Alpha < 1.0 {
		return fmt.Errorf("invalid vamana alpha: %f (must be >= 1.0)", c.Vamana.Alpha)
	}
	if c.Vamana.Dimensions < 1 {
		return fmt.Errorf("invalid dimensions: %d (must be > 0)", c.Vamana.Dimensions)
	}
	if c.Vamana.Subspaces < 1 {
		return fmt.Errorf("invalid subspace count: %d (must be > 0)", c.Vamana.Subspaces)
	}
	if c.Vamana.Dimensions%c.Vamana.Subspaces != 0 {
		return fmt.Errorf("dimensions %d not divisible by subspace count %d", c.Vamana.Dimensions, c.Vamana.Subspaces)
	}

	// MVCC validation
	if c.MVCC.LatchThreshold < 1 {
		return fmt.Errorf("invalid mvcc latch threshold: %d (must be > 0)", c.MVCC.LatchThreshold)
	}
	if c.MVCC.GCEnabled && c.MVCC.GCInterval <= 0 {
		return fmt.Errorf("invalid mvcc gc interval: %v (must be > 0 when gc is enabled)", c.MVCC.GCInterval)
	}

	return nil
}
