package composer

import (
	"context"
	"errors"
	"fmt"

	"fortio.org/safecast"
	"github.com/branched-services/go-scriptcomposer/bcs"
)

// ErrLedgerUnavailable indicates a transaction field must come from the
// ledger but no LedgerSource was given.
var ErrLedgerUnavailable = errors.New("composer: transaction field not set and no ledger source configured")

// RawTransaction is the unsigned transaction envelope.
type RawTransaction struct {
	Sender                  AccountAddress
	SequenceNumber          uint64
	Payload                 *ScriptPayload
	MaxGasAmount            uint64
	GasUnitPrice            uint64
	ExpirationTimestampSecs uint64
	ChainID                 uint8
}

func (t *RawTransaction) MarshalBCS(s *bcs.Serializer) {
	s.Struct(&t.Sender)
	s.U64(t.SequenceNumber)
	if t.Payload == nil {
		s.SetError(errors.New("composer: raw transaction has no payload"))
		return
	}
	s.Struct(t.Payload)
	s.U64(t.MaxGasAmount)
	s.U64(t.GasUnitPrice)
	s.U64(t.ExpirationTimestampSecs)
	s.U8(t.ChainID)
}

func (t *RawTransaction) UnmarshalBCS(d *bcs.Deserializer) {
	d.Struct(&t.Sender)
	t.SequenceNumber = d.U64()
	t.Payload = &ScriptPayload{}
	d.Struct(t.Payload)
	t.MaxGasAmount = d.U64()
	t.GasUnitPrice = d.U64()
	t.ExpirationTimestampSecs = d.U64()
	t.ChainID = d.U8()
}

// Bytes returns the BCS encoding of the raw transaction.
func (t *RawTransaction) Bytes() ([]byte, error) {
	return bcs.Serialize(t)
}

// SimpleTransaction is a single-signer transaction ready for signing.
type SimpleTransaction struct {
	RawTransaction  *RawTransaction
	FeePayerAddress *AccountAddress // nil unless sponsored
}

func (t *SimpleTransaction) MarshalBCS(s *bcs.Serializer) {
	s.Struct(t.RawTransaction)
	if t.FeePayerAddress == nil {
		s.Bool(false)
		return
	}
	s.Bool(true)
	s.Struct(t.FeePayerAddress)
}

func (t *SimpleTransaction) UnmarshalBCS(d *bcs.Deserializer) {
	t.RawTransaction = &RawTransaction{}
	d.Struct(t.RawTransaction)
	if d.Bool() {
		t.FeePayerAddress = &AccountAddress{}
		d.Struct(t.FeePayerAddress)
	}
}

// Bytes returns the BCS encoding of the transaction.
func (t *SimpleTransaction) Bytes() ([]byte, error) {
	return bcs.Serialize(t)
}

// BuildFunc appends calls to a fresh session and returns it. Returning a
// nil session without an error fails with ErrNilSession.
type BuildFunc func(ctx context.Context, c *Composer) (*Composer, error)

// BuildTransactionInput is the input of BuildTransaction.
type BuildTransactionInput struct {
	Sender AccountAddress

	// Source resolves module interfaces for the session.
	Source InterfaceSource

	// Ledger fills in fields not fixed by Options. May be nil when the
	// sequence number, chain id and gas unit price are all given.
	Ledger LedgerSource

	// Build appends the calls.
	Build BuildFunc

	ComposerOptions []Option
	Options         []TransactionOption
}

// BuildTransaction creates a session, runs in.Build on it, builds the
// script and wraps it into a SimpleTransaction. Errors from in.Build and
// from building the script are returned unmodified.
func BuildTransaction(ctx context.Context, in BuildTransactionInput) (*SimpleTransaction, error) {
	if in.Build == nil {
		return nil, errors.New("composer: nil build function")
	}
	c, err := New(in.Source, in.ComposerOptions...)
	if err != nil {
		return nil, err
	}
	built, err := in.Build(ctx, c)
	if err != nil {
		return nil, err
	}
	if built == nil {
		return nil, ErrNilSession
	}
	payload, err := built.BuildPayload()
	if err != nil {
		return nil, err
	}

	cfg := defaultTransactionConfig()
	for _, opt := range in.Options {
		opt(cfg)
	}
	raw, err := assembleRawTransaction(ctx, in.Sender, payload, in.Ledger, cfg)
	if err != nil {
		return nil, err
	}

	tx := &SimpleTransaction{RawTransaction: raw}
	if cfg.feePayer {
		tx.FeePayerAddress = &AccountAddress{}
	}
	c.logger.DebugContext(ctx, "assembled transaction",
		"sender", in.Sender.String(), "sequence_number", raw.SequenceNumber, "chain_id", raw.ChainID)
	return tx, nil
}

func assembleRawTransaction(ctx context.Context, sender AccountAddress, payload *ScriptPayload, ledger LedgerSource, cfg *transactionConfig) (*RawTransaction, error) {
	raw := &RawTransaction{
		Sender:       sender,
		Payload:      payload,
		MaxGasAmount: cfg.maxGasAmount,
	}

	need := func(field string) error {
		if ledger == nil {
			return fmt.Errorf("%w: %s", ErrLedgerUnavailable, field)
		}
		return nil
	}

	if cfg.sequenceNumber != nil {
		raw.SequenceNumber = *cfg.sequenceNumber
	} else {
		if err := need("sequence number"); err != nil {
			return nil, err
		}
		n, err := ledger.SequenceNumber(ctx, sender)
		if err != nil {
			return nil, err
		}
		raw.SequenceNumber = n
	}

	if cfg.chainID != nil {
		raw.ChainID = *cfg.chainID
	} else {
		if err := need("chain id"); err != nil {
			return nil, err
		}
		id, err := ledger.ChainID(ctx)
		if err != nil {
			return nil, err
		}
		raw.ChainID = id
	}

	if cfg.gasUnitPrice != nil {
		raw.GasUnitPrice = *cfg.gasUnitPrice
	} else {
		if err := need("gas unit price"); err != nil {
			return nil, err
		}
		price, err := ledger.EstimateGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		raw.GasUnitPrice = price
	}

	if cfg.expiresAt != nil {
		raw.ExpirationTimestampSecs = *cfg.expiresAt
	} else {
		exp, err := safecast.Conv[uint64](cfg.now().Add(cfg.expiration).Unix())
		if err != nil {
			return nil, fmt.Errorf("composer: invalid expiration: %w", err)
		}
		raw.ExpirationTimestampSecs = exp
	}
	return raw, nil
}
