// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package ierrors carries the typed error kinds every component returns,
// so a caller (the pipeline, the orchestrator, the cmd entrypoint) can
// decide retry-vs-fatal from the error alone instead of string matching.
package ierrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for the propagation policy of spec §7.
type Kind uint8

const (
	// StoreRead and StoreWrite are transient storage errors; retried by
	// the commit pipeline up to its configured budget.
	StoreRead Kind = iota
	StoreWrite
	// FullNodeReading is a transient remote RPC error; fails the
	// checkpoint and is retried by the upstream driver.
	FullNodeReading
	// DataTransformation and SerDe mark malformed data; fatal.
	DataTransformation
	SerDe
	// NotFound marks an object genuinely absent from every tier,
	// including remote RPC; fatal.
	NotFound
	// Invariant marks a violated structural invariant (missing starting
	// sequence, missing epoch event, object referenced but absent from
	// checkpoint objects, dynamic-object target missing); fatal.
	Invariant
)

func (k Kind) String() string {
	switch k {
	case StoreRead:
		return "store_read"
	case StoreWrite:
		return "store_write"
	case FullNodeReading:
		return "full_node_reading"
	case DataTransformation:
		return "data_transformation"
	case SerDe:
		return "serde"
	case NotFound:
		return "not_found"
	case Invariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Transient reports whether the pipeline should retry an error of this
// kind before giving up, as opposed to treating it as immediately fatal.
func (k Kind) Transient() bool {
	switch k {
	case StoreRead, StoreWrite, FullNodeReading:
		return true
	default:
		return false
	}
}

// Error is a typed error carrying a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind from a format string.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(err error, kind Kind) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: errors.WithStack(err)}
}

// Is reports whether err is an *Error of the given kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
