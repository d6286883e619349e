package composer

import (
	"log/slog"
	"time"
)

// Option configures a Composer.
type Option func(*composerConfig)

// EngineFactory creates the engine backing one session.
type EngineFactory func(rt *EngineRuntime, signers int) Engine

// composerConfig holds configuration for a Composer session.
type composerConfig struct {
	logger              *slog.Logger
	allowUnknownStructs bool
	withMetadata        bool
	signers             int
	newEngine           EngineFactory
}

// defaultComposerConfig returns the default session configuration.
func defaultComposerConfig() *composerConfig {
	return &composerConfig{
		logger:              discardLogger(),
		allowUnknownStructs: true,
		withMetadata:        true,
		signers:             1,
		newEngine: func(rt *EngineRuntime, signers int) Engine {
			return rt.NewEngine(signers)
		},
	}
}

// WithLogger sets the logger for debug tracing of fetches, appends and
// builds. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *composerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAllowUnknownStructs controls whether struct parameters other than the
// framework's String, Option and Object accept bcs.Marshaler values.
// Enabled by default.
func WithAllowUnknownStructs(allowed bool) Option {
	return func(c *composerConfig) {
		c.allowUnknownStructs = allowed
	}
}

// WithMetadata controls whether Build embeds the signatures of called
// functions in the program. Enabled by default.
func WithMetadata(enabled bool) Option {
	return func(c *composerConfig) {
		c.withMetadata = enabled
	}
}

// WithEngine replaces the default engine.
func WithEngine(factory EngineFactory) Option {
	return func(c *composerConfig) {
		if factory != nil {
			c.newEngine = factory
		}
	}
}

// TransactionOption configures BuildTransaction.
type TransactionOption func(*transactionConfig)

// Transaction defaults.
const (
	// DefaultMaxGasAmount is used when no max gas amount is given.
	DefaultMaxGasAmount = 200000

	// DefaultExpiration is how long a transaction stays valid by default.
	DefaultExpiration = 20 * time.Second
)

// transactionConfig holds the raw transaction fields a caller may fix.
// nil means "ask the ledger".
type transactionConfig struct {
	sequenceNumber *uint64
	chainID        *uint8
	gasUnitPrice   *uint64
	maxGasAmount   uint64
	expiration     time.Duration
	expiresAt      *uint64
	feePayer       bool
	now            func() time.Time
}

// defaultTransactionConfig returns the default transaction configuration.
func defaultTransactionConfig() *transactionConfig {
	return &transactionConfig{
		maxGasAmount: DefaultMaxGasAmount,
		expiration:   DefaultExpiration,
		now:          time.Now,
	}
}

// WithSequenceNumber fixes the sender's sequence number.
func WithSequenceNumber(n uint64) TransactionOption {
	return func(c *transactionConfig) {
		c.sequenceNumber = &n
	}
}

// WithChainID fixes the chain id.
func WithChainID(id uint8) TransactionOption {
	return func(c *transactionConfig) {
		c.chainID = &id
	}
}

// WithGasUnitPrice fixes the gas unit price.
func WithGasUnitPrice(price uint64) TransactionOption {
	return func(c *transactionConfig) {
		c.gasUnitPrice = &price
	}
}

// WithMaxGasAmount sets the gas limit. Default is DefaultMaxGasAmount.
func WithMaxGasAmount(amount uint64) TransactionOption {
	return func(c *transactionConfig) {
		c.maxGasAmount = amount
	}
}

// WithExpiration sets how long from now the transaction stays valid.
func WithExpiration(d time.Duration) TransactionOption {
	return func(c *transactionConfig) {
		c.expiration = d
	}
}

// WithExpirationTimestamp fixes the absolute expiration in Unix seconds.
func WithExpirationTimestamp(secs uint64) TransactionOption {
	return func(c *transactionConfig) {
		c.expiresAt = &secs
	}
}

// WithFeePayer marks the transaction as sponsored. The fee payer address
// is left as the zero placeholder for the signing layer to fill in.
func WithFeePayer() TransactionOption {
	return func(c *transactionConfig) {
		c.feePayer = true
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
