package composer

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config describes how to reach a fullnode and the transaction defaults
// to apply. It is usually loaded from a TOML file:
//
//	node_url = "https://fullnode.testnet.aptoslabs.com/v1"
//	api_key = ""
//	chain_id = 2
//	max_gas_amount = 200000
//	expiration_seconds = 60
//	log_level = "debug"
type Config struct {
	NodeURL             string `toml:"node_url"`
	APIKey              string `toml:"api_key"`
	ChainID             uint8  `toml:"chain_id"`
	MaxGasAmount        uint64 `toml:"max_gas_amount"`
	GasUnitPrice        uint64 `toml:"gas_unit_price"`
	ExpirationSeconds   uint64 `toml:"expiration_seconds"`
	AllowUnknownStructs *bool  `toml:"allow_unknown_structs"`
	LogLevel            string `toml:"log_level"`
	LogFormat           string `toml:"log_format"`
}

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown keys: %v", path, undecoded)
	}
	if !meta.IsDefined("node_url") || strings.TrimSpace(cfg.NodeURL) == "" {
		return nil, fmt.Errorf("%s: missing node_url", path)
	}
	return &cfg, nil
}

// NewNodeClient creates a NodeClient for the configured node.
func (c *Config) NewNodeClient(opts ...NodeClientOption) (*NodeClient, error) {
	return NewNodeClient(c.NodeURL, c.APIKey, opts...)
}

// ComposerOptions returns the session options implied by the config.
func (c *Config) ComposerOptions() []Option {
	var opts []Option
	if c.AllowUnknownStructs != nil {
		opts = append(opts, WithAllowUnknownStructs(*c.AllowUnknownStructs))
	}
	return opts
}

// TransactionOptions returns the transaction options implied by the config.
// Zero values are left for the ledger or the defaults to decide.
func (c *Config) TransactionOptions() []TransactionOption {
	var opts []TransactionOption
	if c.ChainID != 0 {
		opts = append(opts, WithChainID(c.ChainID))
	}
	if c.MaxGasAmount != 0 {
		opts = append(opts, WithMaxGasAmount(c.MaxGasAmount))
	}
	if c.GasUnitPrice != 0 {
		opts = append(opts, WithGasUnitPrice(c.GasUnitPrice))
	}
	if c.ExpirationSeconds != 0 {
		opts = append(opts, WithExpiration(time.Duration(c.ExpirationSeconds)*time.Second))
	}
	return opts
}

// Logger builds a logger from the configured level and format.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	return NewLogger(c.LogLevel, c.LogFormat, w)
}

// NewLogger creates a slog.Logger writing to w. level is one of debug,
// info, warn or error (default info); format is "json" or text.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}
