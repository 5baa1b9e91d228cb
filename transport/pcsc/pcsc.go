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

// Package pcsc connects the terminal-side transaction engine to a card
// in a PC/SC reader. The reader's driver owns the T=0 byte layer, so
// this transport works at whole-APDU granularity and satisfies
// emv.CardTransport directly.
package pcsc

import (
	"errors"
	"fmt"

	"github.com/ebfe/scard"

	"github.com/emvwedge/go-emvwedge/apdu"
	"github.com/emvwedge/go-emvwedge/emv"
)

// ErrNoReader is returned when no PC/SC reader is available.
var ErrNoReader = errors.New("pcsc: no reader found")

// Reader is a card connection through one PC/SC reader.
type Reader struct {
	ctx  *scard.Context
	card *scard.Card
	name string
}

var _ emv.CardTransport = (*Reader)(nil)

// ListReaders names the PC/SC readers available on the host.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}
	defer func() { _ = ctx.Release() }()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("pcsc: list readers: %w", err)
	}
	return readers, nil
}

// Connect opens the named reader, or the first one when name is empty.
// The connection is forced to T=0 or T=1 to sidestep drivers that
// reject ProtocolAny.
func Connect(name string) (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}

	if name == "" {
		readers, err := ctx.ListReaders()
		if err != nil || len(readers) == 0 {
			_ = ctx.Release()
			if err != nil {
				return nil, fmt.Errorf("pcsc: list readers: %w", err)
			}
			return nil, ErrNoReader
		}
		name = readers[0]
	}

	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		_ = ctx.Release()
		return nil, fmt.Errorf("pcsc: connect to %q: %w", name, err)
	}
	return &Reader{ctx: ctx, card: card, name: name}, nil
}

// Name returns the reader name.
func (r *Reader) Name() string {
	return r.name
}

// ATR returns the answer-to-reset of the inserted card.
func (r *Reader) ATR() ([]byte, error) {
	status, err := r.card.Status()
	if err != nil {
		return nil, fmt.Errorf("pcsc: card status: %w", err)
	}
	return status.Atr, nil
}

// Exchange transmits one command APDU and splits the reply into data
// and status word. Status-driven continuation is the caller's job,
// matching the behavior of a raw T=0 link.
func (r *Reader) Exchange(cmd *apdu.Command) (*apdu.Response, error) {
	raw, err := r.card.Transmit(cmd.Serialize())
	if err != nil {
		return nil, fmt.Errorf("pcsc: transmit: %w", err)
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("pcsc: reply of %d bytes has no status word", len(raw))
	}
	sw := apdu.StatusWord{SW1: raw[len(raw)-2], SW2: raw[len(raw)-1]}
	return apdu.NewResponse(raw[:len(raw)-2], sw), nil
}

// Close disconnects from the card and releases the PC/SC context.
func (r *Reader) Close() error {
	var firstErr error
	if err := r.card.Disconnect(scard.LeaveCard); err != nil {
		firstErr = fmt.Errorf("pcsc: disconnect: %w", err)
	}
	if err := r.ctx.Release(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("pcsc: release context: %w", err)
	}
	return firstErr
}
