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
	"time"

	"github.com/emvwedge/go-emvwedge/apdu"
	"github.com/emvwedge/go-emvwedge/internal/syncutil"
	"github.com/emvwedge/go-emvwedge/tracelog"
)

// MaxExchanges is the default capacity of the per-session exchange log.
const MaxExchanges = 50

// SessionConfig holds per-session settings.
type SessionConfig struct {
	// TraceCapacity is the trace log buffer size in bytes.
	TraceCapacity int
	// MaxExchanges caps the exchange log used by the logged-forward app.
	MaxExchanges int
	// ConfirmPoll is how often the GENERATE AC hold polls the confirmer
	// and emits a more-time byte to the terminal. Must stay well under
	// the terminal's response timeout (9600 ETUs by default).
	ConfirmPoll time.Duration
}

// DefaultSessionConfig returns the settings used by the device firmware.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TraceCapacity: tracelog.DefaultCapacity,
		MaxExchanges:  MaxExchanges,
		ConfirmPoll:   100 * time.Millisecond,
	}
}

// SessionContext owns the mutable state of one interposer session: the
// trace log, the recorded exchanges and the transaction counter. It is
// created once per session and never shared across sessions. The
// protocol flow is sequential; the mutex only protects against a host
// inspecting the session from another goroutine.
type SessionContext struct {
	Trace *tracelog.Log

	mu        syncutil.Mutex
	cfg       SessionConfig
	exchanges []*apdu.Exchange
	txCount   uint32
}

// NewSession creates a session context from the given config.
func NewSession(cfg SessionConfig) *SessionContext {
	if cfg.MaxExchanges <= 0 {
		cfg.MaxExchanges = MaxExchanges
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = 100 * time.Millisecond
	}
	return &SessionContext{
		Trace: tracelog.New(cfg.TraceCapacity),
		cfg:   cfg,
	}
}

// Config returns the session configuration.
func (s *SessionContext) Config() SessionConfig {
	return s.cfg
}

// RecordExchange appends a command/response pair to the exchange log.
// It reports false once the configured capacity is reached; the session
// keeps forwarding either way.
func (s *SessionContext) RecordExchange(ex *apdu.Exchange) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.exchanges) >= s.cfg.MaxExchanges {
		return false
	}
	s.exchanges = append(s.exchanges, ex)
	return true
}

// Exchanges returns a snapshot of the recorded exchanges.
func (s *SessionContext) Exchanges() []*apdu.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*apdu.Exchange, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}

// BeginTransaction bumps and returns the transaction counter.
func (s *SessionContext) BeginTransaction() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++
	return s.txCount
}

// TransactionCount returns the number of transactions started.
func (s *SessionContext) TransactionCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}
