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

// Package apdu provides the ISO 7816-4 APDU data model used by the
// protocol engine: command headers, command and response APDUs, status
// words and the T=0 command-case table.
package apdu

import (
	"bytes"
	"fmt"
)

// Header is the fixed 5-byte T=0 command header {CLA, INS, P1, P2, P3}.
type Header struct {
	Cla byte
	Ins byte
	P1  byte
	P2  byte
	P3  byte
}

// Serialize returns the 5 header bytes in wire order.
func (h Header) Serialize() []byte {
	return []byte{h.Cla, h.Ins, h.P1, h.P2, h.P3}
}

func (h Header) String() string {
	return fmt.Sprintf("%02X %02X %02X %02X %02X", h.Cla, h.Ins, h.P1, h.P2, h.P3)
}

// Command is a command APDU. Data may be nil for case 1/2 commands.
//
// NewRaw does not touch P3, so a caller building a case 2 command can
// carry the expected response length there. New derives P3 from the data.
type Command struct {
	Header Header
	Data   []byte
}

// New builds a command APDU and derives P3 from the payload length.
func New(cla, ins, p1, p2 byte, data []byte) *Command {
	cmd := &Command{Header: Header{Cla: cla, Ins: ins, P1: p1, P2: p2}}
	if len(data) > 0 {
		cmd.Data = append([]byte(nil), data...)
		cmd.Header.P3 = byte(len(data))
	}
	return cmd
}

// NewRaw builds a command APDU from an explicit header. P3 is left exactly
// as given; keeping it consistent with the payload is the caller's job.
func NewRaw(hdr Header, data []byte) *Command {
	cmd := &Command{Header: hdr}
	if len(data) > 0 {
		cmd.Data = append([]byte(nil), data...)
	}
	return cmd
}

// Clone returns a deep copy of the command.
func (c *Command) Clone() *Command {
	if c == nil {
		return nil
	}
	return NewRaw(c.Header, c.Data)
}

// Serialize returns header plus payload in wire order.
func (c *Command) Serialize() []byte {
	out := make([]byte, 0, 5+len(c.Data))
	out = append(out, c.Header.Serialize()...)
	return append(out, c.Data...)
}

// Equal reports whether two commands have identical headers and payloads.
func (c *Command) Equal(other *Command) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Header == other.Header && bytes.Equal(c.Data, other.Data)
}

// StatusWord is the 2-byte trailer of a response APDU.
type StatusWord struct {
	SW1 byte
	SW2 byte
}

// SW1 class values with protocol-level meaning for T=0.
const (
	SW1Completed   = 0x90 // normal completion
	SW1MoreTime    = 0x60 // NULL byte, the card requests more time
	SW1MoreData    = 0x61 // more data available via GET RESPONSE
	SW1Warning1    = 0x62 // warning, state of NV memory unchanged
	SW1Warning2    = 0x63 // warning, state of NV memory changed
	SW1WrongLength = 0x6C // wrong Le, resend with SW2 as P3
)

// IsSuccess reports whether the status word is 9000.
func (sw StatusWord) IsSuccess() bool {
	return sw.SW1 == SW1Completed && sw.SW2 == 0x00
}

func (sw StatusWord) String() string {
	return fmt.Sprintf("%02X%02X", sw.SW1, sw.SW2)
}

// Response is a response APDU. The status word is always populated on a
// value returned from the transport layer; Data may be nil.
type Response struct {
	Data   []byte
	Status StatusWord
}

// NewResponse builds a response APDU, copying the payload.
func NewResponse(data []byte, sw StatusWord) *Response {
	r := &Response{Status: sw}
	if len(data) > 0 {
		r.Data = append([]byte(nil), data...)
	}
	return r
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return NewResponse(r.Data, r.Status)
}

// Serialize returns status bytes followed by the payload, matching the
// export format used by the session log.
func (r *Response) Serialize() []byte {
	out := make([]byte, 0, 2+len(r.Data))
	out = append(out, r.Status.SW1, r.Status.SW2)
	return append(out, r.Data...)
}

// Equal reports whether two responses have identical payloads and status.
func (r *Response) Equal(other *Response) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Status == other.Status && bytes.Equal(r.Data, other.Data)
}

// Exchange pairs one command with its response. Either side may be nil
// while the pair is being assembled.
type Exchange struct {
	Command  *Command
	Response *Response
}

// IsSuccess reports whether the exchange completed with status 9000.
func (e *Exchange) IsSuccess() bool {
	return e != nil && e.Response != nil && e.Response.Status.IsSuccess()
}
