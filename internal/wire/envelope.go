// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package wire defines the newline-delimited JSON protocol spoken
// between the host and worker sidecars: envelope framing, the stateless
// codec, and protocol version negotiation.
package wire

import (
	"fmt"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
)

// Kind discriminates envelope payloads on the wire via the "t" field.
type Kind string

const (
	KindHello  Kind = "hello"
	KindRun    Kind = "run"
	KindEvent  Kind = "event"
	KindFinal  Kind = "final"
	KindFatal  Kind = "fatal"
	KindCancel Kind = "cancel"
	KindPing   Kind = "ping"
	KindPong   Kind = "pong"
)

// Envelope is a single protocol message. The T field selects the kind;
// only the fields belonging to that kind are populated. Fatal's RefID
// stays a pointer so "unknown run" serializes as an explicit null.
type Envelope struct {
	T Kind `json:"t"`

	// hello
	ContractVersion string                       `json:"contract_version,omitempty"`
	Backend         *contract.BackendIdentity    `json:"backend,omitempty"`
	Capabilities    contract.CapabilityManifest  `json:"capabilities,omitempty"`
	Mode            contract.ExecutionMode       `json:"mode,omitempty"`

	// run
	ID        string              `json:"id,omitempty"`
	WorkOrder *contract.WorkOrder `json:"work_order,omitempty"`

	// event / final / cancel / fatal. A fatal not attributable to a
	// specific run omits ref_id.
	RefID   string               `json:"ref_id,omitempty"`
	Event   *contract.AgentEvent `json:"event,omitempty"`
	Receipt *contract.Receipt    `json:"receipt,omitempty"`
	Reason  string               `json:"reason,omitempty"`
	Error   string               `json:"error,omitempty"`

	// ping / pong
	Seq uint64 `json:"seq,omitempty"`
}

// Hello builds the announcement a worker must send as its first line.
func Hello(backend contract.BackendIdentity, caps contract.CapabilityManifest, mode contract.ExecutionMode) Envelope {
	return Envelope{
		T:               KindHello,
		ContractVersion: contract.Version,
		Backend:         &backend,
		Capabilities:    caps,
		Mode:            mode,
	}
}

// Run builds the control-plane request to execute a work order.
func Run(id string, order contract.WorkOrder) Envelope {
	return Envelope{T: KindRun, ID: id, WorkOrder: &order}
}

// Event builds a streaming event envelope correlated to a run.
func Event(refID string, ev contract.AgentEvent) Envelope {
	return Envelope{T: KindEvent, RefID: refID, Event: &ev}
}

// Final builds the terminal envelope carrying the run receipt.
func Final(refID string, receipt contract.Receipt) Envelope {
	return Envelope{T: KindFinal, RefID: refID, Receipt: &receipt}
}

// Fatal builds an unrecoverable-error envelope. refID may be empty when
// the failure is not attributable to a specific run.
func Fatal(refID, errMsg string) Envelope {
	return Envelope{T: KindFatal, RefID: refID, Error: errMsg}
}

// Cancel builds a cancellation request for a running work order.
func Cancel(refID, reason string) Envelope {
	return Envelope{T: KindCancel, RefID: refID, Reason: reason}
}

// Ping builds a liveness probe.
func Ping(seq uint64) Envelope {
	return Envelope{T: KindPing, Seq: seq}
}

// Pong builds the reply to a Ping, echoing its sequence number.
func Pong(seq uint64) Envelope {
	return Envelope{T: KindPong, Seq: seq}
}

// Validate checks that the envelope carries the fields its kind
// requires.
func (e Envelope) Validate() error {
	switch e.T {
	case KindHello:
		if e.ContractVersion == "" {
			return fmt.Errorf("hello envelope missing contract_version")
		}
		if e.Backend == nil {
			return fmt.Errorf("hello envelope missing backend identity")
		}
	case KindRun:
		if e.ID == "" {
			return fmt.Errorf("run envelope missing id")
		}
		if e.WorkOrder == nil {
			return fmt.Errorf("run envelope missing work_order")
		}
	case KindEvent:
		if e.RefID == "" {
			return fmt.Errorf("event envelope missing ref_id")
		}
		if e.Event == nil {
			return fmt.Errorf("event envelope missing event payload")
		}
	case KindFinal:
		if e.RefID == "" {
			return fmt.Errorf("final envelope missing ref_id")
		}
		if e.Receipt == nil {
			return fmt.Errorf("final envelope missing receipt")
		}
	case KindFatal:
		if e.Error == "" {
			return fmt.Errorf("fatal envelope missing error")
		}
	case KindCancel:
		if e.RefID == "" {
			return fmt.Errorf("cancel envelope missing ref_id")
		}
	case KindPing, KindPong:
		// Seq zero is a valid sequence number.
	default:
		return fmt.Errorf("unknown envelope kind %q", e.T)
	}
	return nil
}
