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

// Package uart provides a ByteChannel over a serial port configured for
// ISO 7816-3 character framing: 8 data bits, even parity, two stop
// bits, at the baud rate implied by the card clock (one ETU is 372
// clock cycles). Parity retransmission is handled by the UART hardware;
// this layer adds read retries and convention-aware bit coding.
package uart

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	emvwedge "github.com/emvwedge/go-emvwedge"
)

const (
	// DefaultClock is the assumed card clock in Hz when none is given.
	DefaultClock = 3_571_200
	// clocksPerETU is the ISO 7816-3 default of F=372, D=1.
	clocksPerETU = 372
	// readRetries is how many zero-byte reads are tolerated before a
	// receive is declared timed out.
	readRetries = 4
)

// Config describes how to open the serial line.
type Config struct {
	// Port is the serial device name, e.g. /dev/ttyUSB0.
	Port string
	// Clock is the card clock in Hz; zero selects DefaultClock. The
	// baud rate is Clock / 372.
	Clock int
	// ReadTimeout bounds a single read attempt. Zero selects 100ms.
	ReadTimeout time.Duration
	// Convention is the initial bit coding convention.
	Convention emvwedge.Convention
}

// Channel is a ByteChannel over one serial port.
type Channel struct {
	port serial.Port
	name string

	mu   sync.Mutex
	conv emvwedge.Convention
	etu  time.Duration
}

var _ emvwedge.ByteChannel = (*Channel)(nil)

// Ports lists the serial ports available on the host.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// Open opens the serial line with ISO 7816-3 character framing.
func Open(cfg Config) (*Channel, error) {
	clock := cfg.Clock
	if clock <= 0 {
		clock = DefaultClock
	}
	baud := clock / clocksPerETU

	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Port, err)
	}

	return &Channel{
		port: port,
		name: cfg.Port,
		conv: cfg.Convention,
		etu:  time.Duration(clocksPerETU) * time.Second / time.Duration(clock),
	}, nil
}

// encode maps a byte to its line representation under the current
// convention. The inverse convention transmits bits MSB-first with
// inverted levels, which a direct-convention UART sees as the
// complemented bit-reversal.
func encode(b byte, conv emvwedge.Convention) byte {
	if conv == emvwedge.ConventionDirect {
		return b
	}
	return ^reverseBits(b)
}

// decode is its own inverse: the transform is an involution.
func decode(b byte, conv emvwedge.Convention) byte {
	return encode(b, conv)
}

func reverseBits(b byte) byte {
	b = b>>4 | b<<4
	b = b&0xCC>>2 | b&0x33<<2
	b = b&0xAA>>1 | b&0x55<<1
	return b
}

// SendByte writes one byte and waits for it to leave the wire.
func (c *Channel) SendByte(b byte) error {
	c.mu.Lock()
	wire := encode(b, c.conv)
	c.mu.Unlock()

	n, err := c.port.Write([]byte{wire})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", emvwedge.ErrChannelWrite, c.name, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: %s: short write", emvwedge.ErrChannelWrite, c.name)
	}
	return c.drainWithRetry()
}

// ReceiveByte reads one byte, tolerating a few empty reads before
// giving up. A parity fault surfaces from the driver as a read error
// once the hardware's retransmits are exhausted.
func (c *Channel) ReceiveByte() (byte, error) {
	buf := make([]byte, 1)
	for attempt := 0; attempt <= readRetries; attempt++ {
		n, err := c.port.Read(buf)
		if err != nil {
			if isParityError(err) {
				return 0, fmt.Errorf("%w: %s", emvwedge.ErrParityFailed, c.name)
			}
			return 0, fmt.Errorf("%w: %s: %v", emvwedge.ErrChannelRead, c.name, err)
		}
		if n > 0 {
			c.mu.Lock()
			conv := c.conv
			c.mu.Unlock()
			return decode(buf[0], conv), nil
		}
	}
	return 0, fmt.Errorf("%w: %s: no byte within timeout", emvwedge.ErrChannelTimeout, c.name)
}

// WaitETU sleeps for n elementary time units at the configured clock.
func (c *Channel) WaitETU(n int) {
	time.Sleep(time.Duration(n) * c.etu)
}

// SetConvention switches the bit coding convention.
func (c *Channel) SetConvention(conv emvwedge.Convention) {
	c.mu.Lock()
	c.conv = conv
	c.mu.Unlock()
}

// Convention returns the current bit coding convention.
func (c *Channel) Convention() emvwedge.Convention {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv
}

// Close releases the serial port.
func (c *Channel) Close() error {
	if err := c.port.Close(); err != nil {
		return fmt.Errorf("close %s: %w", c.name, err)
	}
	return nil
}

// drainWithRetry flushes the output buffer, retrying when the syscall
// is interrupted.
func (c *Channel) drainWithRetry() error {
	const maxRetries = 3
	delay := 2 * time.Millisecond
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = c.port.Drain(); err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	return fmt.Errorf("%w: %s: drain: %v", emvwedge.ErrChannelWrite, c.name, err)
}

func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "interrupted system call") || strings.Contains(s, "eintr")
}

func isParityError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "parity")
}
