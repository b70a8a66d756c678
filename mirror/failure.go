package mirror

import (
	"errors"
	"time"

	"margin-repeater/execdata"
	"margin-repeater/trade"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type FailureKind string

const (
	KindDecode            FailureKind = "decode"
	KindOperationNotFound FailureKind = "operation_not_found"
	KindSkip              FailureKind = "skip"
	KindFetch             FailureKind = "fetch"
	KindSubmit            FailureKind = "submit"
	KindInternal          FailureKind = "internal"
)

// FailureRecord describes a target transaction that was not mirrored.
type FailureRecord struct {
	ID     uuid.UUID
	Kind   FailureKind
	TxHash common.Hash
	Block  uint64
	Reason string
	At     time.Time
}

// FailureHook receives every failure record.
type FailureHook func(FailureRecord)

// KindOf maps a pipeline error to its failure kind.
func KindOf(err error) FailureKind {
	var (
		decodeErr *execdata.DecodeError
		fetchErr  *FetchError
	)
	switch {
	case errors.As(err, &decodeErr), errors.Is(err, ErrMalformedCalldata):
		return KindDecode
	case trade.IsSkip(err):
		return KindSkip
	case errors.Is(err, trade.ErrOperationNotFound):
		return KindOperationNotFound
	case errors.As(err, &fetchErr):
		return KindFetch
	}
	return KindInternal
}

func newFailure(kind FailureKind, hash common.Hash, block uint64, err error) FailureRecord {
	return FailureRecord{
		ID:     uuid.New(),
		Kind:   kind,
		TxHash: hash,
		Block:  block,
		Reason: err.Error(),
		At:     time.Now(),
	}
}
