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

// Package tracelog implements the fixed-capacity protocol event log
// produced during a session. Each entry is a type byte followed by one
// to four payload bytes: the low 2 bits of the type byte encode the
// payload length minus one, the high 6 bits the event type.
package tracelog

import (
	"errors"
	"fmt"

	"github.com/emvwedge/go-emvwedge/internal/syncutil"
)

// DefaultCapacity is the default log buffer size in bytes.
const DefaultCapacity = 3900

// ErrLogFull is returned when an append does not fit in the remaining
// buffer. The log never wraps.
var ErrLogFull = errors.New("trace log buffer full")

// Event is the 6-bit event type of a log entry.
type Event byte

// Event types. The byte values on the wire are Event<<2 | (n-1) where n
// is the payload length.
const (
	// Protocol data bytes
	EventATRFromICC    Event = 0x00
	EventATRToTerminal Event = 0x01
	EventToTerminal    Event = 0x02
	EventFromTerminal  Event = 0x03
	EventToICC         Event = 0x04
	EventFromICC       Event = 0x05
	EventATRFromHost   Event = 0x06

	// Terminal-side events
	EventTerminalClockActive  Event = 0x10
	EventTerminalResetLow     Event = 0x11
	EventTerminalTimeout      Event = 0x12
	EventTerminalReceiveError Event = 0x13
	EventTerminalSendError    Event = 0x14
	EventTerminalNoClock      Event = 0x15

	// ICC-side events
	EventICCActivated    Event = 0x20
	EventICCDeactivated  Event = 0x21
	EventICCResetHigh    Event = 0x22
	EventICCReceiveError Event = 0x23
	EventICCSendError    Event = 0x24
	EventICCInserted     Event = 0x25

	// General events; time markers carry a 4-byte little-endian payload
	EventTimeDataToICC Event = 0x30
	EventTimeGeneral   Event = 0x31
	EventMemoryError   Event = 0x32
	EventWatchdogReset Event = 0x33
)

// Log is an append-only event log with a fixed capacity. Appends past
// capacity fail with ErrLogFull instead of wrapping. Safe for use from
// multiple goroutines.
type Log struct {
	mu  syncutil.Mutex
	buf []byte
	cap int
}

// New creates a log with the given capacity in bytes; zero or negative
// selects DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]byte, 0, capacity), cap: capacity}
}

func (l *Log) append(ev Event, data ...byte) error {
	if len(data) == 0 || len(data) > 4 {
		return fmt.Errorf("trace log entry payload must be 1-4 bytes, got %d", len(data))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf)+1+len(data) > l.cap {
		return ErrLogFull
	}
	l.buf = append(l.buf, byte(ev)<<2|byte(len(data)-1))
	l.buf = append(l.buf, data...)
	return nil
}

// Append1 logs an event with a single payload byte.
func (l *Log) Append1(ev Event, a byte) error {
	return l.append(ev, a)
}

// Append2 logs an event with two payload bytes.
func (l *Log) Append2(ev Event, a, b byte) error {
	return l.append(ev, a, b)
}

// Append3 logs an event with three payload bytes.
func (l *Log) Append3(ev Event, a, b, c byte) error {
	return l.append(ev, a, b, c)
}

// Append4 logs an event with four payload bytes.
func (l *Log) Append4(ev Event, a, b, c, d byte) error {
	return l.append(ev, a, b, c, d)
}

// AppendTime logs a 32-bit time marker as little-endian payload bytes.
func (l *Log) AppendTime(ev Event, millis uint32) error {
	return l.append(ev,
		byte(millis), byte(millis>>8), byte(millis>>16), byte(millis>>24))
}

// Reset discards all entries.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = l.buf[:0]
}

// Len returns the number of encoded bytes currently in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}

// Bytes returns a copy of the encoded log contents.
func (l *Log) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.buf...)
}

// Entry is one decoded log entry.
type Entry struct {
	Event Event
	Data  []byte
}

// Parse decodes an exported log buffer into its entries. A type byte
// whose declared payload overruns the buffer is a format error.
func Parse(buf []byte) ([]Entry, error) {
	var entries []Entry
	for i := 0; i < len(buf); {
		n := int(buf[i]&0x03) + 1
		ev := Event(buf[i] >> 2)
		i++
		if i+n > len(buf) {
			return nil, fmt.Errorf("truncated trace log entry at offset %d: need %d payload bytes, have %d",
				i-1, n, len(buf)-i)
		}
		entries = append(entries, Entry{Event: ev, Data: append([]byte(nil), buf[i:i+n]...)})
		i += n
	}
	return entries, nil
}
