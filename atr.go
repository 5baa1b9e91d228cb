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

import "fmt"

// Interface byte slots within ATR.Interface, in capture order.
const (
	slotTA1 = iota
	slotTB1
	slotTC1
	slotTD1
	slotTA2
	slotTB2
	slotTC2
	slotTD2
	slotTA3
	slotTB3
	slotTC3
	slotTD3
)

// ATR is a validated Answer To Reset. Raw preserves the captured byte
// sequence so the bridge can replay it verbatim to the terminal.
type ATR struct {
	TS         byte
	T0         byte
	Conv       Convention
	Protocol   byte // 0 for T=0, 1 for T=1
	Interface  [16]byte
	Present    uint16 // bit (15-slot) set when the slot was captured
	Historical []byte
	TCK        byte
	Raw        []byte
}

// Has reports whether the given interface byte slot was present.
func (a *ATR) Has(slot int) bool {
	return a.Present&(1<<(15-slot)) != 0
}

// TC1 returns the extra guard time byte, zero when absent.
func (a *ATR) TC1() byte {
	if a.Has(slotTC1) {
		return a.Interface[slotTC1]
	}
	return 0
}

// TA3 returns the TA3 byte, or the 0x20 default when absent.
func (a *ATR) TA3() byte {
	if a.Has(slotTA3) {
		return a.Interface[slotTA3]
	}
	return 0x20
}

// TB3 returns the TB3 byte, zero when absent.
func (a *ATR) TB3() byte {
	if a.Has(slotTB3) {
		return a.Interface[slotTB3]
	}
	return 0
}

// TailBytes returns every captured byte after TS, excluding the TCK.
// These are the bytes the bridge replays to the terminal once its own
// TS has been sent.
func (a *ATR) TailBytes() []byte {
	n := len(a.Raw)
	if a.Protocol == 1 && n > 0 {
		n--
	}
	if n <= 1 {
		return nil
	}
	return a.Raw[1:n]
}

// DefaultATR is the canned T=0 ATR the wedge answers with when it has
// no card ATR to relay: TB1 = 0 (no VPP) and TC1 as given.
func DefaultATR(conv Convention, tc1 byte) *ATR {
	ts := byte(0x3B)
	if conv == ConventionInverse {
		ts = 0x3F
	}
	a := &ATR{
		TS:       ts,
		T0:       0x60, // TB1 and TC1 present, no historical bytes
		Conv:     conv,
		Protocol: 0,
		Raw:      []byte{ts, 0x60, 0x00, tc1},
	}
	a.Interface[slotTB1] = 0x00
	a.Interface[slotTC1] = tc1
	a.Present = 1<<(15-slotTB1) | 1<<(15-slotTC1)
	return a
}

// ParseATR reads and validates an ATR field by field from a byte
// source. The source may be a live channel or a captured buffer; all
// retry and timing concerns belong to the source, not to the parse.
//
// Validation follows EMV Book 1: TB1 must be present and zero (no VPP),
// TA2/TB2 must be absent (no PTS support), TC2 when present must be
// 0x0A, and only T=0 and T=1 are recognized in TD1. For T=1 the TCK
// checksum is verified. Each failure is reported as an ATRError naming
// the offending field.
func ParseATR(next func() (byte, error)) (*ATR, error) {
	a := &ATR{}
	var check byte

	get := func(field string) (byte, error) {
		b, err := next()
		if err != nil {
			return 0, fmt.Errorf("read ATR %s: %w", field, err)
		}
		a.Raw = append(a.Raw, b)
		return b, nil
	}

	ts, err := get("TS")
	if err != nil {
		return nil, err
	}
	a.TS = ts
	switch ts {
	case 0x3B:
		a.Conv = ConventionDirect
	case 0x3F, 0x03:
		// 0x03 is 0x3F as seen by a receiver still decoding with the
		// direct convention.
		a.Conv = ConventionInverse
	default:
		return nil, &ATRError{Field: "TS", Value: ts}
	}

	t0, err := get("T0")
	if err != nil {
		return nil, err
	}
	a.T0 = t0
	check ^= t0
	history := int(t0 & 0x0F)
	hasTA := t0&0x10 != 0
	hasTB := t0&0x20 != 0
	hasTC := t0&0x40 != 0
	hasTD := t0&0x80 != 0
	if !hasTB {
		// TB1 is mandatory under EMV
		return nil, &ATRError{Field: "T0", Value: t0}
	}

	capture := func(slot int, field string) (byte, error) {
		b, err := get(field)
		if err != nil {
			return 0, err
		}
		a.Interface[slot] = b
		a.Present |= 1 << (15 - slot)
		check ^= b
		return b, nil
	}

	if hasTA {
		// TA1 codes FI/DI; operation stays at F=372, D=1 regardless, as
		// the negotiable mode requires when TA2 is absent.
		if _, err := capture(slotTA1, "TA1"); err != nil {
			return nil, err
		}
	}

	tb1, err := capture(slotTB1, "TB1")
	if err != nil {
		return nil, err
	}
	if tb1 != 0 {
		return nil, &ATRError{Field: "TB1", Value: tb1}
	}

	if hasTC {
		if _, err := capture(slotTC1, "TC1"); err != nil {
			return nil, err
		}
	}

	if hasTD {
		td1, err := capture(slotTD1, "TD1")
		if err != nil {
			return nil, err
		}
		switch td1 & 0x0F {
		case 0x00:
			a.Protocol = 0
		case 0x01:
			a.Protocol = 1
		default:
			return nil, &ATRError{Field: "TD1", Value: td1}
		}
		hasTA = td1&0x10 != 0
		hasTB = td1&0x20 != 0
		hasTC = td1&0x40 != 0
		hasTD = td1&0x80 != 0

		// Specific modes of operation would require PTS, which is not
		// supported.
		if hasTA {
			return nil, &ATRError{Field: "TA2", Value: td1}
		}
		if hasTB {
			return nil, &ATRError{Field: "TB2", Value: td1}
		}

		if hasTC {
			tc2, err := capture(slotTC2, "TC2")
			if err != nil {
				return nil, err
			}
			if tc2 != 0x0A {
				return nil, &ATRError{Field: "TC2", Value: tc2}
			}
		}

		if hasTD {
			td2, err := capture(slotTD2, "TD2")
			if err != nil {
				return nil, err
			}
			hasTA = td2&0x10 != 0
			hasTB = td2&0x20 != 0
			hasTC = td2&0x40 != 0

			if hasTA {
				ta3, err := capture(slotTA3, "TA3")
				if err != nil {
					return nil, err
				}
				if ta3 < 0x0F || ta3 == 0xFF {
					return nil, &ATRError{Field: "TA3", Value: ta3}
				}
			}

			if a.Protocol == 1 && !hasTB {
				return nil, &ATRError{Field: "TB3", Value: 0}
			}
			if hasTB {
				tb3, err := capture(slotTB3, "TB3")
				if err != nil {
					return nil, err
				}
				if tb3&0x0F > 5 || tb3&0xF0 > 64 {
					return nil, &ATRError{Field: "TB3", Value: tb3}
				}
			}

			if a.Protocol == 0 && hasTC {
				return nil, &ATRError{Field: "TC3", Value: td2}
			}
			if hasTC {
				tc3, err := capture(slotTC3, "TC3")
				if err != nil {
					return nil, err
				}
				if tc3 != 0 {
					return nil, &ATRError{Field: "TC3", Value: tc3}
				}
			}
		}
	}

	for i := 0; i < history; i++ {
		b, err := get("historical")
		if err != nil {
			return nil, err
		}
		a.Historical = append(a.Historical, b)
		check ^= b
	}

	if a.Protocol == 1 {
		tck, err := get("TCK")
		if err != nil {
			return nil, err
		}
		a.TCK = tck
		check ^= tck
		if check != 0 {
			return nil, &ATRError{Field: "TCK", Value: tck}
		}
	}

	return a, nil
}

// ParseATRBytes parses an already-captured ATR byte sequence.
func ParseATRBytes(data []byte) (*ATR, error) {
	i := 0
	return ParseATR(func() (byte, error) {
		if i >= len(data) {
			return 0, fmt.Errorf("%w: truncated at byte %d", ErrMalformedATR, i)
		}
		b := data[i]
		i++
		return b, nil
	})
}
