// Copyright 2026 The EMVWedge Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package emvwedge

import (
	"errors"
	"fmt"
)

// Error categories for error handling and retry logic
var (
	// Transport faults - potentially retryable
	ErrChannelTimeout = errors.New("channel timeout")
	ErrChannelWrite   = errors.New("channel write failed")
	ErrChannelRead    = errors.New("channel read failed")
	ErrChannelClosed  = errors.New("channel is closed")
	ErrParityFailed   = errors.New("parity error after exhausting resends")

	// Protocol violations - fatal to the current exchange
	ErrUnknownCommand          = errors.New("unknown command case")
	ErrUnexpectedProcedureByte = errors.New("unexpected procedure byte")
	ErrMalformedATR            = errors.New("malformed ATR")
	ErrUnsupportedProtocol     = errors.New("protocol not supported")

	// Policy rejections - clean negative outcomes, not bugs
	ErrBadPINFormat      = errors.New("bad PIN command format")
	ErrTransactionDenied = errors.New("transaction denied by user")
	ErrSessionTerminated = errors.New("session terminated")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps channel-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Link      string    // Link identifier (terminal or icc side)
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Link != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Link, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ATRError reports exactly which ATR field was invalid, so a caller can
// log the offending byte rather than a generic parse failure.
type ATRError struct {
	Field string // TS, T0, TB1, TD1, TA2, TB2, TC2, TA3, TB3, TC3, TCK
	Value byte
}

func (e *ATRError) Error() string {
	return fmt.Sprintf("malformed ATR: %s = 0x%02X", e.Field, e.Value)
}

func (e *ATRError) Unwrap() error {
	return ErrMalformedATR
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrChannelTimeout),
		errors.Is(err, ErrChannelRead),
		errors.Is(err, ErrChannelWrite):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the link is gone and the
// session cannot continue. Distinct from IsRetryable, which is about a
// single byte operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	switch {
	case errors.Is(err, ErrChannelClosed),
		errors.Is(err, ErrSessionTerminated):
		return true
	default:
		return false
	}
}
