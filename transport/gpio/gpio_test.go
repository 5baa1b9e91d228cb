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

package gpio

import (
	"testing"

	"github.com/stretchr/testify/assert"

	emvwedge "github.com/emvwedge/go-emvwedge"
)

func TestCharacterBitsDirect(t *testing.T) {
	t.Parallel()

	// 0x3B = 0011 1011, sent LSB first.
	bits, parity := characterBits(0x3B, emvwedge.ConventionDirect)
	assert.Equal(t, [8]byte{1, 1, 0, 1, 1, 1, 0, 0}, bits)
	assert.Equal(t, byte(1), parity, "five ones need an odd parity bit")
}

func TestCharacterBitsEvenCount(t *testing.T) {
	t.Parallel()

	_, parity := characterBits(0x33, emvwedge.ConventionDirect)
	assert.Equal(t, byte(0), parity)
}

func TestCharacterRoundTrip(t *testing.T) {
	t.Parallel()

	for _, conv := range []emvwedge.Convention{emvwedge.ConventionDirect, emvwedge.ConventionInverse} {
		for i := 0; i < 256; i++ {
			b := byte(i)
			bits, _ := characterBits(b, conv)
			assert.Equal(t, b, assembleByte(bits, conv))
		}
	}
}

func TestInverseConventionTS(t *testing.T) {
	t.Parallel()

	// The inverse TS byte 0x3F decoded with the direct convention must
	// read as 0x03.
	bits, _ := characterBits(0x3F, emvwedge.ConventionInverse)
	assert.Equal(t, byte(0x03), assembleByte(bits, emvwedge.ConventionDirect))
}
