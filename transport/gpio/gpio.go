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

// Package gpio provides a bit-banged ByteChannel over host GPIO lines,
// for driving a card slot directly: one half-duplex I/O line plus the
// card's power, reset and clock-enable control lines. It also
// implements ICCController so the bridge can sequence activation.
//
// Character framing follows ISO 7816-3: a start bit, 8 data bits, an
// even parity bit and a two-ETU guard. On a signalled parity fault the
// character is retransmitted up to four times.
package gpio

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	emvwedge "github.com/emvwedge/go-emvwedge"
)

const (
	// DefaultClock is the card clock in Hz assumed when none is given.
	DefaultClock = 1_000_000
	clocksPerETU = 372
	// maxResends is how often a character is retransmitted after the
	// receiver signals a parity fault.
	maxResends = 4
)

// Config names the host GPIO lines wired to the card slot.
type Config struct {
	// IO is the bidirectional data line (card contact C7).
	IO string
	// Reset drives the card reset line (C2); empty disables control.
	Reset string
	// Power switches card VCC (C1); empty disables control.
	Power string
	// Clock is the card clock in Hz; zero selects DefaultClock.
	Clock int
	// Convention is the initial bit coding convention.
	Convention emvwedge.Convention
}

// Channel is a bit-banged ByteChannel over GPIO lines.
type Channel struct {
	io    gpio.PinIO
	reset gpio.PinIO
	power gpio.PinIO

	mu   sync.Mutex
	conv emvwedge.Convention
	etu  time.Duration
}

var (
	_ emvwedge.ByteChannel   = (*Channel)(nil)
	_ emvwedge.ICCController = (*Channel)(nil)
)

// Open initializes the host GPIO driver and claims the configured
// lines. The I/O line is mandatory; reset and power are optional.
func Open(cfg Config) (*Channel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialize gpio host: %w", err)
	}

	ioPin := gpioreg.ByName(cfg.IO)
	if ioPin == nil {
		return nil, fmt.Errorf("gpio line %q not found", cfg.IO)
	}

	clock := cfg.Clock
	if clock <= 0 {
		clock = DefaultClock
	}
	ch := &Channel{
		io:   ioPin,
		conv: cfg.Convention,
		etu:  time.Duration(clocksPerETU) * time.Second / time.Duration(clock),
	}

	if cfg.Reset != "" {
		if ch.reset = gpioreg.ByName(cfg.Reset); ch.reset == nil {
			return nil, fmt.Errorf("gpio line %q not found", cfg.Reset)
		}
	}
	if cfg.Power != "" {
		if ch.power = gpioreg.ByName(cfg.Power); ch.power == nil {
			return nil, fmt.Errorf("gpio line %q not found", cfg.Power)
		}
	}

	// Idle state: line released high so the card can drive it.
	if err := ioPin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("configure io line: %w", err)
	}
	return ch, nil
}

// Activate powers the card with reset held low, per the cold-reset
// sequence. No-op without a power line.
func (c *Channel) Activate() error {
	if c.reset != nil {
		if err := c.reset.Out(gpio.Low); err != nil {
			return fmt.Errorf("drive reset low: %w", err)
		}
	}
	if c.power != nil {
		if err := c.power.Out(gpio.High); err != nil {
			return fmt.Errorf("power card: %w", err)
		}
	}
	return nil
}

// Deactivate drops reset, then power, releasing the card.
func (c *Channel) Deactivate() error {
	if c.reset != nil {
		if err := c.reset.Out(gpio.Low); err != nil {
			return fmt.Errorf("drive reset low: %w", err)
		}
	}
	if c.power != nil {
		if err := c.power.Out(gpio.Low); err != nil {
			return fmt.Errorf("unpower card: %w", err)
		}
	}
	return nil
}

// SetReset drives the card reset line.
func (c *Channel) SetReset(high bool) error {
	if c.reset == nil {
		return nil
	}
	level := gpio.Low
	if high {
		level = gpio.High
	}
	if err := c.reset.Out(level); err != nil {
		return fmt.Errorf("drive reset: %w", err)
	}
	return nil
}

// SendByte transmits one character: start bit, data bits, even parity,
// then listens during the guard time for a parity fault signalled by
// the receiver pulling the line low. Faulted characters are resent.
func (c *Channel) SendByte(b byte) error {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()

	for attempt := 0; attempt <= maxResends; attempt++ {
		if err := c.writeCharacter(b, conv); err != nil {
			return err
		}
		faulted, err := c.guardFault()
		if err != nil {
			return err
		}
		if !faulted {
			return nil
		}
	}
	return fmt.Errorf("%w: io line", emvwedge.ErrParityFailed)
}

func (c *Channel) writeCharacter(b byte, conv emvwedge.Convention) error {
	bits, parity := characterBits(b, conv)

	// Start bit.
	if err := c.io.Out(gpio.Low); err != nil {
		return fmt.Errorf("%w: start bit: %v", emvwedge.ErrChannelWrite, err)
	}
	c.WaitETU(1)

	for _, bit := range bits {
		if err := c.io.Out(levelOf(bit)); err != nil {
			return fmt.Errorf("%w: data bit: %v", emvwedge.ErrChannelWrite, err)
		}
		c.WaitETU(1)
	}
	if err := c.io.Out(levelOf(parity)); err != nil {
		return fmt.Errorf("%w: parity bit: %v", emvwedge.ErrChannelWrite, err)
	}
	c.WaitETU(1)

	// Release the line for the guard time.
	if err := c.io.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("%w: release line: %v", emvwedge.ErrChannelWrite, err)
	}
	return nil
}

// guardFault samples the guard interval; a low level half an ETU in
// means the receiver rejected the character's parity.
func (c *Channel) guardFault() (bool, error) {
	time.Sleep(c.etu / 2)
	faulted := c.io.Read() == gpio.Low
	time.Sleep(3 * c.etu / 2)
	return faulted, nil
}

// ReceiveByte waits for a start bit and samples one character at
// mid-bit. A parity mismatch is signalled back by pulling the line low
// during the guard time; after four signalled faults the receive fails.
func (c *Channel) ReceiveByte() (byte, error) {
	for attempt := 0; attempt <= maxResends; attempt++ {
		b, ok, err := c.readCharacter()
		if err != nil {
			return 0, err
		}
		if ok {
			return b, nil
		}
		if err := c.signalFault(); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: io line", emvwedge.ErrParityFailed)
}

func (c *Channel) readCharacter() (b byte, parityOK bool, err error) {
	if err := c.io.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return 0, false, fmt.Errorf("%w: arm io line: %v", emvwedge.ErrChannelRead, err)
	}
	// 9600 ETUs is the T=0 work waiting time ceiling.
	if !c.io.WaitForEdge(9600 * c.etu) {
		return 0, false, fmt.Errorf("%w: no start bit", emvwedge.ErrChannelTimeout)
	}

	// Move to the middle of the first data bit.
	time.Sleep(3 * c.etu / 2)

	var bits [8]byte
	ones := 0
	for i := range bits {
		if c.io.Read() == gpio.High {
			bits[i] = 1
			ones++
		}
		time.Sleep(c.etu)
	}
	parity := c.io.Read() == gpio.High
	time.Sleep(c.etu / 2)

	even := ones%2 == 0
	if parity == even {
		// Even parity: the parity bit makes the total count of ones
		// even, so a high parity bit implies an odd data count.
		return 0, false, nil
	}

	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	return assembleByte(bits, conv), true, nil
}

// signalFault pulls the line low during the sender's guard time.
func (c *Channel) signalFault() error {
	if err := c.io.Out(gpio.Low); err != nil {
		return fmt.Errorf("%w: signal parity fault: %v", emvwedge.ErrChannelWrite, err)
	}
	c.WaitETU(2)
	if err := c.io.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("%w: release line: %v", emvwedge.ErrChannelRead, err)
	}
	return nil
}

// WaitETU sleeps for n elementary time units.
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

// Close releases the card and the I/O line.
func (c *Channel) Close() error {
	if err := c.Deactivate(); err != nil {
		return err
	}
	if err := c.io.Halt(); err != nil {
		return fmt.Errorf("halt io line: %w", err)
	}
	return nil
}

// characterBits returns the line bits in transmit order plus the even
// parity bit. Direct convention sends LSB first with true levels;
// inverse sends MSB first with inverted levels. Parity covers the data
// bits as seen on the line.
func characterBits(b byte, conv emvwedge.Convention) (bits [8]byte, parity byte) {
	ones := 0
	for i := 0; i < 8; i++ {
		var bit byte
		if conv == emvwedge.ConventionDirect {
			bit = b >> i & 1
		} else {
			bit = ^b >> (7 - i) & 1
		}
		bits[i] = bit
		ones += int(bit)
	}
	parity = byte(ones % 2)
	return bits, parity
}

// assembleByte rebuilds a byte from line bits in receive order.
func assembleByte(bits [8]byte, conv emvwedge.Convention) byte {
	var b byte
	for i, bit := range bits {
		if conv == emvwedge.ConventionDirect {
			b |= bit << i
		} else {
			b |= (bit ^ 1) << (7 - i)
		}
	}
	return b
}

func levelOf(bit byte) gpio.Level {
	if bit == 1 {
		return gpio.High
	}
	return gpio.Low
}
