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

// Convention is the ISO 7816-3 bit coding convention negotiated by the
// card's TS byte.
type Convention int

const (
	// ConventionDirect encodes bits LSB-first, high level = 1 (TS 0x3B).
	ConventionDirect Convention = iota
	// ConventionInverse encodes bits MSB-first, low level = 1 (TS 0x3F).
	ConventionInverse
)

func (c Convention) String() string {
	if c == ConventionInverse {
		return "inverse"
	}
	return "direct"
}

// ByteChannel is one half-duplex serial line to a single party, either
// the terminal or the ICC. Implementations own the character-level
// framing: parity generation and checking, the up-to-4 retransmits on a
// signalled parity fault, and ETU timing at the configured clock rate.
//
// SendByte and ReceiveByte block until the byte is exchanged, a
// protocol timing window expires, or the line fails.
type ByteChannel interface {
	SendByte(b byte) error
	ReceiveByte() (byte, error)
	// WaitETU blocks for n elementary time units.
	WaitETU(n int)
	SetConvention(Convention)
	Convention() Convention
	Close() error
}

// ICCController is implemented by ICC-side channels that drive the
// card's power and reset lines (transport/gpio). The bridge handshake
// uses it when present; channels without line control (a serial probe,
// a simulator) simply don't implement it.
type ICCController interface {
	Activate() error
	Deactivate() error
	SetReset(high bool) error
}
