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
	"context"
	"fmt"

	"github.com/emvwedge/go-emvwedge/apdu"
	"github.com/emvwedge/go-emvwedge/tracelog"
)

// Bridge composes a terminal-facing and an ICC-facing T0 transport and
// moves command/response pairs between them. Cancellation is observed
// between operations, never mid-byte.
type Bridge struct {
	Terminal *T0
	ICC      *T0
	log      *tracelog.Log
	atr      *ATR
}

// NewBridge builds a bridge over the two channels. The trace log may be
// nil; when set, both links record their byte traffic into it.
func NewBridge(terminal, icc ByteChannel, log *tracelog.Log) *Bridge {
	b := &Bridge{
		Terminal: NewT0(terminal, RoleTerminal),
		ICC:      NewT0(icc, RoleICC),
		log:      log,
	}
	if log != nil {
		b.Terminal.SetLog(log)
		b.ICC.SetLog(log)
	}
	return b
}

// ATR returns the card's ATR captured by Handshake, or nil before it.
func (b *Bridge) ATR() *ATR {
	return b.atr
}

func (b *Bridge) logEvent(ev tracelog.Event) {
	if b.log != nil {
		_ = b.log.Append1(ev, 0)
	}
}

// Handshake answers the terminal's reset and brings up the card: it
// sends the TS byte to the terminal first (the terminal's timing window
// starts at reset), then activates and resets the ICC, captures and
// validates the card's ATR, and replays its remaining bytes to the
// terminal so both sides agree on parameters. T=1 cards are rejected.
func (b *Bridge) Handshake(ctx context.Context) (*ATR, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ts := byte(0x3B)
	if b.Terminal.Channel().Convention() == ConventionInverse {
		ts = 0x3F
	}
	if err := b.Terminal.Channel().SendByte(ts); err != nil {
		return nil, &TransportError{Err: err, Op: "send TS", Link: "terminal", Type: ErrorTypeTransient, Retryable: true}
	}
	if b.log != nil {
		_ = b.log.Append1(tracelog.EventATRToTerminal, ts)
	}

	ctrl, hasCtrl := b.ICC.Channel().(ICCController)
	if hasCtrl {
		if err := ctrl.Activate(); err != nil {
			return nil, fmt.Errorf("activate ICC: %w", err)
		}
		b.logEvent(tracelog.EventICCActivated)
		// 40000 clock cycles between activation and reset high
		b.ICC.Channel().WaitETU(41000 / 372)
		if err := ctrl.SetReset(true); err != nil {
			return nil, fmt.Errorf("reset ICC: %w", err)
		}
		b.logEvent(tracelog.EventICCResetHigh)
	}

	atr, err := ParseATR(func() (byte, error) {
		by, rerr := b.ICC.Channel().ReceiveByte()
		if rerr == nil && b.log != nil {
			_ = b.log.Append1(tracelog.EventATRFromICC, by)
		}
		return by, rerr
	})
	if err != nil {
		b.deactivate(ctrl, hasCtrl)
		return nil, err
	}

	b.ICC.Channel().SetConvention(atr.Conv)
	b.ICC.SetGuardTime(atr.TC1())

	if atr.Protocol != 0 {
		b.deactivate(ctrl, hasCtrl)
		return nil, fmt.Errorf("%w: T=%d", ErrUnsupportedProtocol, atr.Protocol)
	}

	for _, by := range atr.TailBytes() {
		if err := b.Terminal.Channel().SendByte(by); err != nil {
			return nil, &TransportError{Err: err, Op: "replay ATR", Link: "terminal", Type: ErrorTypeTransient, Retryable: true}
		}
		if b.log != nil {
			_ = b.log.Append1(tracelog.EventATRToTerminal, by)
		}
		b.Terminal.Channel().WaitETU(2)
	}

	b.atr = atr
	Debugf("handshake complete: conv=%s tc1=0x%02X", atr.Conv, atr.TC1())
	return atr, nil
}

func (b *Bridge) deactivate(ctrl ICCController, ok bool) {
	if ok {
		if err := ctrl.Deactivate(); err == nil {
			b.logEvent(tracelog.EventICCDeactivated)
		}
	}
}

// Teardown deactivates the ICC if its channel controls the lines.
func (b *Bridge) Teardown() {
	ctrl, ok := b.ICC.Channel().(ICCController)
	b.deactivate(ctrl, ok)
}

// Exchange moves exactly one command from the terminal to the ICC and
// its response back, unmodified.
func (b *Bridge) Exchange(ctx context.Context) (*apdu.Exchange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd, err := b.Terminal.ReceiveCommand()
	if err != nil {
		return nil, err
	}
	if err := b.ICC.SendCommand(cmd); err != nil {
		return nil, err
	}
	resp, err := b.ICC.ReceiveResponse(cmd.Header)
	if err != nil {
		return nil, err
	}
	if err := b.Terminal.SendResponse(cmd.Header, resp); err != nil {
		return nil, err
	}
	return &apdu.Exchange{Command: cmd, Response: resp}, nil
}

// ExchangeComplete forwards exchanges until the ICC's status is neither
// 0x61 (more data, the terminal will issue GET RESPONSE) nor 0x6C
// (wrong length, the terminal will resend with the corrected P3). It
// returns the first command paired with the final response; the
// intermediate continuation steps are not exposed.
func (b *Bridge) ExchangeComplete(ctx context.Context) (*apdu.Exchange, error) {
	first, err := b.Exchange(ctx)
	if err != nil {
		return nil, err
	}
	resp := first.Response
	for resp.Status.SW1 == apdu.SW1MoreData || resp.Status.SW1 == apdu.SW1WrongLength {
		ex, err := b.Exchange(ctx)
		if err != nil {
			return nil, err
		}
		resp = ex.Response
	}
	return &apdu.Exchange{Command: first.Command, Response: resp}, nil
}
