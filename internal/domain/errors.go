package domain

import "errors"

var (
	// ErrReadTimeout marks a transient RPC read timeout. Jobs failing with it
	// are requeued unchanged after a short backoff.
	ErrReadTimeout = errors.New("chain read timeout")

	// ErrContractReverted marks a deterministic contract-logic rejection: the
	// on-chain precondition no longer holds and resubmission would fail
	// identically. Jobs failing with it are dropped.
	ErrContractReverted = errors.New("contract logic reverted")

	// ErrConfirmTimeout marks a mutating transaction whose receipt did not
	// arrive within the confirmation window. The transaction's true outcome
	// is unknown and must never be silently treated as failure or success.
	ErrConfirmTimeout = errors.New("transaction confirmation timeout")

	// ErrUnsupportedCollateral marks a collateral tag with no configured swap
	// route. Terminal; no liquidation action can be taken for it.
	ErrUnsupportedCollateral = errors.New("unsupported collateral coin")
)

// FailureKind is the classification a stage failure receives so the
// orchestrator's queue-management code can decide requeue versus drop without
// inspecting raw errors.
type FailureKind int

const (
	// FailureTransient covers infrastructure hiccups: requeue the same job
	// unchanged after a fixed backoff.
	FailureTransient FailureKind = iota
	// FailureTerminal covers deterministic rejections: log and drop.
	FailureTerminal
	// FailureUnknown covers everything else: log with full context and
	// requeue, relying on stages re-checking chain state before acting.
	FailureUnknown
)

// Classify maps an error returned by a stage action to its FailureKind.
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, ErrReadTimeout):
		return FailureTransient
	case errors.Is(err, ErrContractReverted), errors.Is(err, ErrUnsupportedCollateral):
		return FailureTerminal
	default:
		return FailureUnknown
	}
}
