package execution

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "pending"
	StatusMined    SubmissionStatus = "mined"
	StatusReverted SubmissionStatus = "reverted"
	StatusFailed   SubmissionStatus = "failed"
	StatusDryRun   SubmissionStatus = "dry_run"
)

// Submission is one execute call sent to the repeater account.
type Submission struct {
	ID          uuid.UUID
	Source      common.Hash // target transaction being mirrored
	TxHash      common.Hash
	Codes       []uint8
	Inputs      [][]byte
	Status      SubmissionStatus
	Block       uint64
	GasUsed     uint64
	Error       string
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// Done reports whether the submission reached a final status.
func (s *Submission) Done() bool {
	return s.Status != StatusPending
}

type ExecutionStatistics struct {
	Submitted uint64
	Mined     uint64
	Reverted  uint64
	Failed    uint64
	Rejected  uint64 // refused because another submission was in flight
}
