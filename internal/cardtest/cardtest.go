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

// Package cardtest provides in-memory test doubles for the T=0 engine:
// a programmable card simulator that speaks the character-level
// protocol from the ICC side, and a scripted byte channel for the
// terminal side. Both satisfy the ByteChannel interface so bridges and
// transaction engines run against them unchanged.
package cardtest

import (
	"fmt"

	emvwedge "github.com/emvwedge/go-emvwedge"
	"github.com/emvwedge/go-emvwedge/apdu"
	"github.com/emvwedge/go-emvwedge/internal/syncutil"
)

// Handler produces the card's answer to one command APDU. For case 2
// commands the returned data must be exactly P3 bytes long; case 3/4
// commands answer with a status word only (data travels through a
// follow-up GET RESPONSE, as on a real T=0 link).
type Handler func(cmd *apdu.Command) *apdu.Response

// Card simulates an ICC at the byte level. It assembles the five-byte
// command header, emits procedure bytes, collects the data phase for
// case 3/4 commands and queues the handler's reply, so the full
// procedure-byte negotiation of the transport under test is exercised.
type Card struct {
	handle Handler

	// MoreTime inserts this many 0x60 stall bytes before every reply,
	// exercising the caller's wait loops.
	MoreTime int
	// ByteByByte acknowledges the data phase with the complemented INS,
	// forcing the byte-at-a-time transfer mode.
	ByteByByte bool

	mu      syncutil.Mutex
	atr     []byte
	conv    emvwedge.Convention
	out     []byte
	hdr     []byte
	pending *apdu.Command
	need    int
	cmds    []*apdu.Command
	waits   int

	activated   bool
	deactivated bool
	resetHigh   bool
	closed      bool
}

var (
	_ emvwedge.ByteChannel   = (*Card)(nil)
	_ emvwedge.ICCController = (*Card)(nil)
)

// New builds a card that answers with atr on reset and asks handle for
// every command it receives.
func New(atr []byte, handle Handler) *Card {
	return &Card{atr: atr, handle: handle}
}

// SendByte feeds one byte from the host into the card's state machine.
func (c *Card) SendByte(b byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: card closed", emvwedge.ErrChannelWrite)
	}

	if c.pending != nil {
		c.pending.Data = append(c.pending.Data, b)
		c.need--
		switch {
		case c.need == 0:
			cmd := c.pending
			c.pending = nil
			c.respond(cmd)
		case c.ByteByByte:
			c.out = append(c.out, ^c.pending.Header.Ins)
		}
		return nil
	}

	c.hdr = append(c.hdr, b)
	if len(c.hdr) < 5 {
		return nil
	}
	h := apdu.Header{Cla: c.hdr[0], Ins: c.hdr[1], P1: c.hdr[2], P2: c.hdr[3], P3: c.hdr[4]}
	c.hdr = c.hdr[:0]
	cmd := apdu.NewRaw(h, nil)

	if cs := cmd.Case(); cs == 3 || cs == 4 {
		c.stall()
		ack := h.Ins
		if c.ByteByByte {
			ack = ^h.Ins
		}
		c.out = append(c.out, ack)
		if h.P3 > 0 {
			c.pending = cmd
			c.need = int(h.P3)
			return nil
		}
	}
	c.respond(cmd)
	return nil
}

// respond records the command, asks the handler and queues the reply
// burst: optional stalls, the INS procedure byte when data follows,
// then the status word.
func (c *Card) respond(cmd *apdu.Command) {
	c.cmds = append(c.cmds, cmd)
	r := c.handle(cmd)
	c.stall()
	if len(r.Data) > 0 {
		c.out = append(c.out, cmd.Header.Ins)
		c.out = append(c.out, r.Data...)
	}
	c.out = append(c.out, r.Status.SW1, r.Status.SW2)
}

func (c *Card) stall() {
	for i := 0; i < c.MoreTime; i++ {
		c.out = append(c.out, apdu.SW1MoreTime)
	}
}

// ReceiveByte hands the host the next queued card byte.
func (c *Card) ReceiveByte() (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.out) == 0 {
		return 0, fmt.Errorf("%w: no byte queued", emvwedge.ErrChannelRead)
	}
	b := c.out[0]
	c.out = c.out[1:]
	return b, nil
}

// WaitETU counts guard waits without sleeping.
func (c *Card) WaitETU(n int) {
	c.mu.Lock()
	c.waits += n
	c.mu.Unlock()
}

// SetConvention records the convention selected after ATR parsing.
func (c *Card) SetConvention(conv emvwedge.Convention) {
	c.mu.Lock()
	c.conv = conv
	c.mu.Unlock()
}

// Convention returns the currently selected convention.
func (c *Card) Convention() emvwedge.Convention {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv
}

// Close marks the card unusable.
func (c *Card) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Activate records the cold-reset activation step.
func (c *Card) Activate() error {
	c.mu.Lock()
	c.activated = true
	c.mu.Unlock()
	return nil
}

// Deactivate records the release of the card lines.
func (c *Card) Deactivate() error {
	c.mu.Lock()
	c.deactivated = true
	c.mu.Unlock()
	return nil
}

// SetReset drives the simulated reset line; the rising edge queues the
// ATR, as a powered card would answer it.
func (c *Card) SetReset(high bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if high && !c.resetHigh {
		c.out = append(c.out, c.atr...)
	}
	c.resetHigh = high
	return nil
}

// Commands returns the commands the card has fully received so far.
func (c *Card) Commands() []*apdu.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*apdu.Command, len(c.cmds))
	copy(out, c.cmds)
	return out
}

// Activated reports whether Activate has been called.
func (c *Card) Activated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activated
}

// Deactivated reports whether Deactivate has been called.
func (c *Card) Deactivated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deactivated
}

// Script is a ByteChannel that plays back a fixed byte sequence and
// records everything sent to it. It stands in for the terminal side of
// a bridge.
type Script struct {
	mu     syncutil.Mutex
	rx     []byte
	tx     []byte
	conv   emvwedge.Convention
	waits  int
	closed bool
}

var _ emvwedge.ByteChannel = (*Script)(nil)

// NewScript builds a script channel that will serve rx byte by byte.
func NewScript(rx []byte) *Script {
	return &Script{rx: rx}
}

// SendByte records one byte written to the peer.
func (s *Script) SendByte(b byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: script closed", emvwedge.ErrChannelWrite)
	}
	s.tx = append(s.tx, b)
	return nil
}

// ReceiveByte returns the next scripted byte.
func (s *Script) ReceiveByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rx) == 0 {
		return 0, fmt.Errorf("%w: script exhausted", emvwedge.ErrChannelRead)
	}
	b := s.rx[0]
	s.rx = s.rx[1:]
	return b, nil
}

// WaitETU counts guard waits without sleeping.
func (s *Script) WaitETU(n int) {
	s.mu.Lock()
	s.waits += n
	s.mu.Unlock()
}

// SetConvention records the selected convention.
func (s *Script) SetConvention(conv emvwedge.Convention) {
	s.mu.Lock()
	s.conv = conv
	s.mu.Unlock()
}

// Convention returns the currently selected convention.
func (s *Script) Convention() emvwedge.Convention {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// Close marks the script unusable.
func (s *Script) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Sent returns everything written to the channel so far.
func (s *Script) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.tx))
	copy(out, s.tx)
	return out
}
