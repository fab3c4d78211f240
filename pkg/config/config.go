// Package config is an in-memory representation of the blocksync
// configuration file, loaded from and written to TOML.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the root of the on-disk configuration (spec §3.1).
type Config struct {
	Store   *StoreConfig   `toml:"store"`
	Chunker *ChunkerConfig `toml:"chunker"`
	Bitswap *BitswapConfig `toml:"bitswap"`
	Log     *LogConfig     `toml:"log"`
}

// StoreConfig holds all configuration options related to the block
// store.
type StoreConfig struct {
	Path            string `toml:"path"`
	MaxBlockSize    int    `toml:"max_block_size"`
	MaxDagBlockSize int    `toml:"max_dag_block_size"`
	InlineCidLimit  int    `toml:"inline_cid_limit"`
	AllowInlineCid  bool   `toml:"allow_inline_cid"`
}

func newDefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Path:            "./blocks",
		MaxBlockSize:    1 << 20,
		MaxDagBlockSize: 4 << 20,
		InlineCidLimit:  32,
		AllowInlineCid:  false,
	}
}

// ChunkerConfig holds all configuration options related to the
// chunker and DAG builder.
type ChunkerConfig struct {
	ChunkSize int `toml:"chunk_size"`
	Fanout    int `toml:"fanout"`
}

func newDefaultChunkerConfig() *ChunkerConfig {
	return &ChunkerConfig{
		ChunkSize: 256 << 10,
		Fanout:    174,
	}
}

// BitswapConfig holds all configuration options related to the
// bitswap exchange engine.
type BitswapConfig struct {
	Protocols []string `toml:"protocols"`
}

func newDefaultBitswapConfig() *BitswapConfig {
	return &BitswapConfig{
		Protocols: []string{"/ipfs/bitswap/1.1.0", "/ipfs/bitswap/1.0.0"},
	}
}

// LogConfig holds all configuration options related to logging.
type LogConfig struct {
	Level string `toml:"level"`
}

func newDefaultLogConfig() *LogConfig {
	return &LogConfig{Level: "info"}
}

// NewDefaultConfig returns a config object with every field filled
// out to its default value.
func NewDefaultConfig() *Config {
	return &Config{
		Store:   newDefaultStoreConfig(),
		Chunker: newDefaultChunkerConfig(),
		Bitswap: newDefaultBitswapConfig(),
		Log:     newDefaultLogConfig(),
	}
}

// Validate rejects configurations the rest of the module can't act
// on safely (spec §3.1).
func (cfg *Config) Validate() error {
	if cfg.Chunker.Fanout < 2 {
		return errors.New("config: chunker.fanout must be at least 2")
	}
	if cfg.Chunker.ChunkSize < 1 {
		return errors.New("config: chunker.chunk_size must be positive")
	}
	if cfg.Store.MaxDagBlockSize < cfg.Store.MaxBlockSize {
		return errors.New("config: store.max_dag_block_size must be at least store.max_block_size")
	}
	return nil
}

// WriteFile writes cfg to file as TOML.
func (cfg *Config) WriteFile(file string) error {
	f, err := os.OpenFile(file, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "config: open for write")
	}

	if err := toml.NewEncoder(f).Encode(*cfg); err != nil {
		f.Close()
		return errors.Wrap(err, "config: encode")
	}

	return f.Close()
}

// ReadFile reads a config file from disk, filling in defaults for
// anything the file leaves unset.
func ReadFile(file string) (*Config, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrap(err, "config: open for read")
	}
	defer f.Close()

	cfg := NewDefaultConfig()
	if _, err := toml.DecodeReader(f, cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
