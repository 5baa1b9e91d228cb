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

package tracelog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndParse(t *testing.T) {
	t.Parallel()

	log := New(0)
	require.NoError(t, log.Append1(EventATRFromICC, 0x3B))
	require.NoError(t, log.Append2(EventFromTerminal, 0x00, 0xA4))
	require.NoError(t, log.AppendTime(EventTimeGeneral, 0x01020304))

	entries, err := Parse(log.Bytes())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, EventATRFromICC, entries[0].Event)
	assert.Equal(t, []byte{0x3B}, entries[0].Data)
	assert.Equal(t, EventFromTerminal, entries[1].Event)
	assert.Equal(t, []byte{0x00, 0xA4}, entries[1].Data)
	assert.Equal(t, EventTimeGeneral, entries[2].Event)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, entries[2].Data)
}

func TestWireEncoding(t *testing.T) {
	t.Parallel()

	log := New(0)
	require.NoError(t, log.Append1(EventFromICC, 0x90))
	require.NoError(t, log.Append4(EventTimeDataToICC, 1, 2, 3, 4))

	got := log.Bytes()
	// type byte = event<<2 | (payload len - 1)
	assert.Equal(t, byte(EventFromICC)<<2, got[0])
	assert.Equal(t, byte(EventTimeDataToICC)<<2|0x03, got[2])
}

func TestLogFull(t *testing.T) {
	t.Parallel()

	log := New(5)
	require.NoError(t, log.Append2(EventToICC, 0x00, 0xB2)) // 3 bytes
	require.NoError(t, log.Append1(EventFromICC, 0x61))     // 2 bytes, exactly full

	err := log.Append1(EventFromICC, 0x10)
	assert.ErrorIs(t, err, ErrLogFull)
	assert.Equal(t, 5, log.Len())

	log.Reset()
	assert.Equal(t, 0, log.Len())
	require.NoError(t, log.Append1(EventFromICC, 0x10))
}

func TestParseTruncated(t *testing.T) {
	t.Parallel()

	// Declares 4 payload bytes but only 2 follow.
	_, err := Parse([]byte{byte(EventTimeGeneral)<<2 | 0x03, 0x01, 0x02})
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	entries, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
