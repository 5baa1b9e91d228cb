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

package emvwedge_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	emvwedge "github.com/emvwedge/go-emvwedge"
	"github.com/emvwedge/go-emvwedge/apdu"
	"github.com/emvwedge/go-emvwedge/emv"
	"github.com/emvwedge/go-emvwedge/internal/cardtest"
)

var simATR = []byte{0x3B, 0x60, 0x00, 0x01}

func TestForwardSessionOverSimulatedCard(t *testing.T) {
	t.Parallel()

	card := cardtest.New(simATR, func(_ *apdu.Command) *apdu.Response {
		return apdu.NewResponse(nil, apdu.StatusWord{SW1: 0x6A, SW2: 0x82})
	})

	// One SELECT of the payment system directory, then silence.
	script := append([]byte{0x00, 0xA4, 0x04, 0x00, 0x0E}, []byte("1PAY.SYS.DDF01")...)
	term := cardtest.NewScript(script)

	sess := emvwedge.NewSession(emvwedge.DefaultSessionConfig())
	bridge := emvwedge.NewBridge(term, card, sess.Trace)

	err := emvwedge.RunForward(context.Background(), sess, bridge)
	require.Error(t, err, "session ends when the terminal script runs dry")
	assert.True(t, emvwedge.IsRetryable(err))

	assert.True(t, card.Activated())
	cmds := card.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, byte(0xA4), cmds[0].Header.Ins)
	assert.Equal(t, []byte("1PAY.SYS.DDF01"), cmds[0].Data)

	// TS + replayed ATR tail, the INS acknowledgement of the data
	// phase, then the card's status word.
	assert.Equal(t, []byte{0x3B, 0x60, 0x00, 0x01, 0xA4, 0x6A, 0x82}, term.Sent())
}

func TestBridgeCompletesGetResponseChain(t *testing.T) {
	t.Parallel()

	payload := []byte{0xAA, 0xBB, 0xCC}
	card := cardtest.New(simATR, func(cmd *apdu.Command) *apdu.Response {
		if cmd.Header.Ins == 0xC0 {
			return apdu.NewResponse(payload, apdu.StatusWord{SW1: 0x90, SW2: 0x00})
		}
		return apdu.NewResponse(nil, apdu.StatusWord{SW1: 0x61, SW2: byte(len(payload))})
	})

	script := append([]byte{0x00, 0xA4, 0x04, 0x00, 0x07}, 0xA0, 0x00, 0x00, 0x00, 0x03, 0x10, 0x10)
	script = append(script, 0x00, 0xC0, 0x00, 0x00, 0x03)
	term := cardtest.NewScript(script)

	bridge := emvwedge.NewBridge(term, card, nil)
	_, err := bridge.Handshake(context.Background())
	require.NoError(t, err)

	ex, err := bridge.ExchangeComplete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(0xA4), ex.Command.Header.Ins)
	assert.Equal(t, payload, ex.Response.Data)
	assert.True(t, ex.Response.Status.IsSuccess())

	// The terminal saw the chained data relayed behind the C0 ack.
	assert.True(t, bytes.HasSuffix(term.Sent(), []byte{0xC0, 0xAA, 0xBB, 0xCC, 0x90, 0x00}))
}

func TestTerminalEngineOverSimulatedCard(t *testing.T) {
	t.Parallel()

	aid := []byte{0xA0, 0x00, 0x00, 0x00, 0x03, 0x10, 0x10}
	fci := []byte{0x6F, 0x0E, 0x84, 0x07}
	fci = append(fci, aid...)
	fci = append(fci, 0xA5, 0x03, 0x88, 0x01, 0x01)

	card := cardtest.New(simATR, func(cmd *apdu.Command) *apdu.Response {
		switch {
		case cmd.Header.Ins == 0xC0:
			return apdu.NewResponse(fci[:cmd.Header.P3], apdu.StatusWord{SW1: 0x90, SW2: 0x00})
		case bytes.Equal(cmd.Data, aid):
			return apdu.NewResponse(nil, apdu.StatusWord{SW1: 0x61, SW2: byte(len(fci))})
		default:
			// No payment system directory on this card.
			return apdu.NewResponse(nil, apdu.StatusWord{SW1: 0x6A, SW2: 0x82})
		}
	})
	card.MoreTime = 2 // stall before every reply

	term := emv.NewTerminal(emvwedge.NewT0(card, emvwedge.RoleICC))
	got, err := term.SelectApplication(context.Background(), aid)
	require.NoError(t, err)
	assert.Equal(t, aid, got.DFName)
	assert.NotNil(t, got.Proprietary.Find(emv.TagSFI))
}

func TestSendCommandByteByByteMode(t *testing.T) {
	t.Parallel()

	card := cardtest.New(simATR, func(_ *apdu.Command) *apdu.Response {
		return apdu.NewResponse(nil, apdu.StatusWord{SW1: 0x90, SW2: 0x00})
	})
	card.ByteByByte = true

	block := []byte{0x24, 0x12, 0x34, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	t0 := emvwedge.NewT0(card, emvwedge.RoleICC)
	cmd := apdu.New(0x00, 0x20, 0x00, 0x80, block)
	require.NoError(t, t0.SendCommand(cmd))

	resp, err := t0.ReceiveResponse(cmd.Header)
	require.NoError(t, err)
	assert.True(t, resp.Status.IsSuccess())

	cmds := card.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, block, cmds[0].Data)
}
