package core

import (
	"errors"
	"fmt"
)

// FetchStatus tags the outcome of one platform fetch.
type FetchStatus int

const (
	FetchOK FetchStatus = iota
	FetchTransient
	FetchConflict
	FetchUnknown
)

func (s FetchStatus) String() string {
	switch s {
	case FetchOK:
		return "ok"
	case FetchTransient:
		return "transient"
	case FetchConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// FetchResult carries a batch of events or the classified failure.
type FetchResult struct {
	Status FetchStatus
	Events []Event
	Err    error
}

// FaultKind classifies a fault that ends a poll session.
type FaultKind string

const (
	FaultConflict  FaultKind = "conflict"
	FaultTransient FaultKind = "transient"
	FaultUnknown   FaultKind = "unknown"
)

// Fault is the reason a poll session or session reset ended.
type Fault struct {
	Kind   FaultKind
	Reason string
	Err    error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s fault: %s: %v", f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s fault: %s", f.Kind, f.Reason)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// NewFault builds a fault of the given kind.
func NewFault(kind FaultKind, reason string, err error) *Fault {
	return &Fault{Kind: kind, Reason: reason, Err: err}
}

// FaultKindFor maps a failed fetch status to a fault kind.
func FaultKindFor(status FetchStatus) FaultKind {
	switch status {
	case FetchConflict:
		return FaultConflict
	case FetchTransient:
		return FaultTransient
	default:
		return FaultUnknown
	}
}

// KindOf returns the fault kind carried by err, or FaultUnknown.
func KindOf(err error) FaultKind {
	var fault *Fault
	if errors.As(err, &fault) && fault.Kind != "" {
		return fault.Kind
	}
	return FaultUnknown
}
