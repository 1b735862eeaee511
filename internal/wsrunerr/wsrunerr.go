// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package wsrunerr defines the domain-level error kinds shared across the
// workspace companion service. Every handler at the RPC boundary maps one
// of these kinds to a transport status; an error that carries no kind is
// treated as KindInternal (see KindOf).
package wsrunerr

import (
	"errors"
	"fmt"
)

// Kind identifies a domain-level failure category.
type Kind int

const (
	// KindInternal covers lock acquisition failures, store I/O, and any
	// unexpected commit error.
	KindInternal Kind = iota
	// KindInvalidArgument covers empty identifiers, malformed scopes, and
	// artifact parse/size failures.
	KindInvalidArgument
	// KindNotFound covers missing artifact files and paths resolved
	// outside their permitted root.
	KindNotFound
	// KindUnimplemented is reserved; not currently produced by any
	// operation.
	KindUnimplemented
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindInternal:
		return "Internal"
	case KindUnimplemented:
		return "Unimplemented"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a domain Kind and a short
// human-readable message suitable for returning at the RPC boundary.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Invalid is a convenience constructor for KindInvalidArgument.
func Invalid(message string, cause error) *Error {
	return New(KindInvalidArgument, message, cause)
}

// NotFound is a convenience constructor for KindNotFound.
func NotFound(message string, cause error) *Error {
	return New(KindNotFound, message, cause)
}

// Internal is a convenience constructor for KindInternal.
func Internal(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

// KindOf extracts the Kind from err, defaulting to KindInternal for any
// error that did not originate from this package (an invariant violation
// elsewhere in the service, not a classified domain failure).
func KindOf(err error) Kind {
	var e *Error
	if err != nil && errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
