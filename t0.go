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
	"fmt"

	"github.com/emvwedge/go-emvwedge/apdu"
	"github.com/emvwedge/go-emvwedge/tracelog"
)

// Role identifies the party at the far end of a T0 link. The framing
// rules are identical on both sides; the role selects which operations
// make sense (a terminal sends us commands, an ICC answers ours) and
// the direction tags in the trace log.
type Role int

const (
	// RoleTerminal means the peer is a payment terminal: this side
	// behaves as a card, receiving commands and sending responses.
	RoleTerminal Role = iota
	// RoleICC means the peer is a card: this side behaves as a
	// terminal, sending commands and receiving responses.
	RoleICC
)

func (r Role) String() string {
	if r == RoleICC {
		return "icc"
	}
	return "terminal"
}

// T0 implements the ISO 7816-3 T=0 byte transport over one ByteChannel.
// One instance serves one link; a bridge composes two.
type T0 struct {
	ch    ByteChannel
	log   *tracelog.Log
	role  Role
	guard int // ETUs between consecutive sent bytes, 1 + TC1
}

// NewT0 wraps a channel in a T=0 transport for the given role.
func NewT0(ch ByteChannel, role Role) *T0 {
	return &T0{ch: ch, role: role, guard: 1}
}

// SetGuardTime sets the inter-byte guard interval from the peer's TC1.
func (t *T0) SetGuardTime(tc1 byte) {
	t.guard = 1 + int(tc1)
}

// SetLog attaches a trace log. Logging failures never abort an
// exchange; a full log simply stops recording.
func (t *T0) SetLog(l *tracelog.Log) {
	t.log = l
}

// Channel returns the underlying byte channel.
func (t *T0) Channel() ByteChannel {
	return t.ch
}

func (t *T0) logByte(ev tracelog.Event, b byte) {
	if t.log != nil {
		_ = t.log.Append1(ev, b)
	}
}

func (t *T0) send(b byte) error {
	if err := t.ch.SendByte(b); err != nil {
		if t.log != nil {
			ev := tracelog.EventTerminalSendError
			if t.role == RoleICC {
				ev = tracelog.EventICCSendError
			}
			_ = t.log.Append1(ev, 0)
		}
		return &TransportError{Err: err, Op: "send byte", Link: t.role.String(), Type: ErrorTypeTransient, Retryable: true}
	}
	ev := tracelog.EventToTerminal
	if t.role == RoleICC {
		ev = tracelog.EventToICC
	}
	t.logByte(ev, b)
	return nil
}

func (t *T0) recv() (byte, error) {
	b, err := t.ch.ReceiveByte()
	if err != nil {
		if t.log != nil {
			ev := tracelog.EventTerminalReceiveError
			if t.role == RoleICC {
				ev = tracelog.EventICCReceiveError
			}
			_ = t.log.Append1(ev, 0)
		}
		return 0, &TransportError{Err: err, Op: "receive byte", Link: t.role.String(), Type: ErrorTypeTransient, Retryable: true}
	}
	ev := tracelog.EventFromTerminal
	if t.role == RoleICC {
		ev = tracelog.EventFromICC
	}
	t.logByte(ev, b)
	return b, nil
}

// ReceiveCommand reads one command APDU from a terminal. For case 3/4
// commands the INS acknowledgement procedure byte is sent back before
// the data phase. Only valid on a RoleTerminal link.
func (t *T0) ReceiveCommand() (*apdu.Command, error) {
	var hdr [5]byte
	for i := range hdr {
		b, err := t.recv()
		if err != nil {
			return nil, err
		}
		hdr[i] = b
		if i < len(hdr)-1 {
			t.ch.WaitETU(t.guard)
		}
	}

	cmd := apdu.NewRaw(apdu.Header{Cla: hdr[0], Ins: hdr[1], P1: hdr[2], P2: hdr[3], P3: hdr[4]}, nil)
	switch cmd.Case() {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Header)
	case 1, 2:
		return cmd, nil
	}

	// Case 3/4: acknowledge with INS, then take P3 data bytes.
	t.ch.WaitETU(6)
	if err := t.send(cmd.Header.Ins); err != nil {
		return nil, err
	}
	t.ch.WaitETU(t.guard)

	n := int(cmd.Header.P3)
	data := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		b, err := t.recv()
		if err != nil {
			return nil, err
		}
		data = append(data, b)
		if i < n-1 {
			t.ch.WaitETU(t.guard)
		}
	}
	cmd.Data = data
	return cmd, nil
}

// SendResponse writes a response APDU to a terminal. Response data, if
// any, is preceded by the INS acknowledgement byte of the command it
// answers. Only valid on a RoleTerminal link.
func (t *T0) SendResponse(hdr apdu.Header, resp *apdu.Response) error {
	if len(resp.Data) > 0 {
		if err := t.send(hdr.Ins); err != nil {
			return err
		}
		t.ch.WaitETU(2)
		for _, b := range resp.Data {
			if err := t.send(b); err != nil {
				return err
			}
			t.ch.WaitETU(2)
		}
	}
	if err := t.send(resp.Status.SW1); err != nil {
		return err
	}
	t.ch.WaitETU(2)
	if err := t.send(resp.Status.SW2); err != nil {
		return err
	}
	t.ch.WaitETU(2)
	return nil
}

// SendMoreTime emits the 0x60 NULL byte, asking the terminal to keep
// waiting. Used while a command is being held for user confirmation.
func (t *T0) SendMoreTime() error {
	return t.send(apdu.SW1MoreTime)
}

// SendCommand writes one command APDU to an ICC, negotiating procedure
// bytes for the data phase: INS acknowledges the whole block, its
// complement switches to byte-by-byte transfer with a fresh
// acknowledgement before every subsequent byte, and 0x60 asks for more
// time. Only valid on a RoleICC link.
func (t *T0) SendCommand(cmd *apdu.Command) error {
	if cmd.Case() == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Header)
	}

	for i, b := range cmd.Serialize()[:5] {
		if err := t.send(b); err != nil {
			return err
		}
		if i < 4 {
			t.ch.WaitETU(t.guard)
		}
	}

	if c := cmd.Case(); c == 1 || c == 2 {
		return nil
	}

	t.ch.WaitETU(6)
	proc, err := t.recv()
	if err != nil {
		return err
	}
	for proc == apdu.SW1MoreTime {
		t.ch.WaitETU(1)
		if proc, err = t.recv(); err != nil {
			return err
		}
	}

	ins := cmd.Header.Ins
	if proc != ins && proc != ^ins {
		// The stray byte is this response's SW2; drain it so the link
		// is left on a character boundary.
		if _, err := t.recv(); err != nil {
			return err
		}
		return fmt.Errorf("%w: got 0x%02X for INS 0x%02X", ErrUnexpectedProcedureByte, proc, ins)
	}

	t.ch.WaitETU(6)

	i := 0
	if proc != ins && i < len(cmd.Data) {
		if err := t.send(cmd.Data[i]); err != nil {
			return err
		}
		i++
		if i < len(cmd.Data) {
			t.ch.WaitETU(6)
		}
	}
	for proc != ins && i < len(cmd.Data) {
		if proc, err = t.recv(); err != nil {
			return err
		}
		t.ch.WaitETU(6)
		if proc != ins {
			if err := t.send(cmd.Data[i]); err != nil {
				return err
			}
			i++
			if i < len(cmd.Data) {
				t.ch.WaitETU(6)
			}
		}
	}

	for ; i < len(cmd.Data)-1; i++ {
		if err := t.send(cmd.Data[i]); err != nil {
			return err
		}
		t.ch.WaitETU(t.guard)
	}
	if i == len(cmd.Data)-1 {
		if err := t.send(cmd.Data[i]); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveResponse reads the response to the command identified by hdr
// from an ICC. The expected shape follows the command case: status only
// for case 1/3, an optional data phase announced by a procedure byte
// for case 2/4. 0x60 bytes are consumed silently however many times the
// card stalls. Only valid on a RoleICC link.
func (t *T0) ReceiveResponse(hdr apdu.Header) (*apdu.Response, error) {
	c := apdu.CommandCase(hdr.Cla, hdr.Ins)
	if c == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, hdr)
	}

	if c == 1 || c == 3 {
		sw1, err := t.recv()
		if err != nil {
			return nil, err
		}
		for sw1 == apdu.SW1MoreTime {
			if sw1, err = t.recv(); err != nil {
				return nil, err
			}
		}
		sw2, err := t.recv()
		if err != nil {
			return nil, err
		}
		return apdu.NewResponse(nil, apdu.StatusWord{SW1: sw1, SW2: sw2}), nil
	}

	b, err := t.recv()
	if err != nil {
		return nil, err
	}
	for b == apdu.SW1MoreTime {
		if b, err = t.recv(); err != nil {
			return nil, err
		}
	}

	if b == hdr.Ins || b == ^hdr.Ins {
		n := 1
		if b == hdr.Ins {
			n = int(hdr.P3)
		}
		data := make([]byte, 0, n)
		for i := 0; i < n; i++ {
			db, err := t.recv()
			if err != nil {
				return nil, err
			}
			data = append(data, db)
		}
		sw1, err := t.recv()
		if err != nil {
			return nil, err
		}
		sw2, err := t.recv()
		if err != nil {
			return nil, err
		}
		return apdu.NewResponse(data, apdu.StatusWord{SW1: sw1, SW2: sw2}), nil
	}

	// No data: the byte read is already SW1.
	sw2, err := t.recv()
	if err != nil {
		return nil, err
	}
	return apdu.NewResponse(nil, apdu.StatusWord{SW1: b, SW2: sw2}), nil
}

// Exchange sends one command and reads its response, without any
// continuation handling. It satisfies emv.CardTransport so the
// terminal-side transaction engine can run over a live T=0 link.
func (t *T0) Exchange(cmd *apdu.Command) (*apdu.Response, error) {
	if err := t.SendCommand(cmd); err != nil {
		return nil, err
	}
	return t.ReceiveResponse(cmd.Header)
}
