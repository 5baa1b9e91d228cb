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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testATR = []byte{0x3B, 0x60, 0x00, 0x00}

// memStore is an in-memory PINStore for tests.
type memStore struct {
	block []byte
}

func (m *memStore) Store(block []byte) error {
	m.block = append([]byte(nil), block...)
	return nil
}

func (m *memStore) Load() ([]byte, error) {
	return m.block, nil
}

func newTestSession() *SessionContext {
	cfg := DefaultSessionConfig()
	cfg.ConfirmPoll = time.Millisecond
	return NewSession(cfg)
}

func TestRunForwardLogged(t *testing.T) {
	t.Parallel()

	term := &mockChannel{rx: []byte{0x00, 0xB2, 0x01, 0x0C, 0x02}}
	icc := &mockChannel{rx: append(append([]byte(nil), testATR...),
		0xB2, 0xAA, 0xBB, 0x90, 0x00)}
	b := NewBridge(term, icc, nil)
	sess := newTestSession()

	err := RunForwardLogged(context.Background(), sess, b)
	require.Error(t, err, "session ends when the terminal line goes quiet")
	assert.True(t, IsRetryable(err))

	exchanges := sess.Exchanges()
	require.Len(t, exchanges, 1)
	assert.Equal(t, []byte{0xAA, 0xBB}, exchanges[0].Response.Data)
	assert.Equal(t, uint32(1), sess.TransactionCount())
}

func TestRunForwardLoggedCapacity(t *testing.T) {
	t.Parallel()

	cfg := DefaultSessionConfig()
	cfg.MaxExchanges = 1
	sess := NewSession(cfg)

	term := &mockChannel{rx: []byte{
		0x00, 0xB2, 0x01, 0x0C, 0x00,
		0x00, 0xB2, 0x02, 0x0C, 0x00,
	}}
	icc := &mockChannel{rx: append(append([]byte(nil), testATR...),
		0x6A, 0x83,
		0x6A, 0x83)}
	b := NewBridge(term, icc, nil)

	err := RunForwardLogged(context.Background(), sess, b)
	require.Error(t, err)
	assert.Len(t, sess.Exchanges(), 1, "forwarding continues past log capacity")
}

func TestRunPINSubstitution(t *testing.T) {
	t.Parallel()

	term := &mockChannel{rx: []byte{0x00, 0x20, 0x00, 0x80, 0x02, 0x12, 0x34}}
	icc := &mockChannel{rx: append(append([]byte(nil), testATR...),
		0x20, // INS ack for the substituted VERIFY
		0x90, 0x00)}
	b := NewBridge(term, icc, nil)

	err := RunPINSubstitution(context.Background(), newTestSession(), b, DefaultPINBlock)
	require.Error(t, err, "session ends when the terminal line goes quiet")

	// The card saw the stored block with the corrected P3, not the
	// terminal's two bytes.
	want := append([]byte{0x00, 0x20, 0x00, 0x80, 0x08}, DefaultPINBlock...)
	assert.Equal(t, want, icc.tx)

	// The terminal got the ATR tail and the card's verdict.
	assert.Equal(t, append(append([]byte(nil), testATR...), 0x90, 0x00), term.tx)
}

func TestRunPINSubstitutionRejectsBadBlock(t *testing.T) {
	t.Parallel()

	b := NewBridge(&mockChannel{}, &mockChannel{}, nil)
	err := RunPINSubstitution(context.Background(), newTestSession(), b, make([]byte, 9))
	require.ErrorIs(t, err, ErrBadPINFormat)

	err = RunPINSubstitution(context.Background(), newTestSession(), b, nil)
	require.ErrorIs(t, err, ErrBadPINFormat)
}

func TestRunPINCapture(t *testing.T) {
	t.Parallel()

	term := &mockChannel{rx: []byte{0x00, 0x20, 0x00, 0x80, 0x02, 0x12, 0x34}}
	icc := &mockChannel{rx: append([]byte(nil), testATR...)}
	b := NewBridge(term, icc, nil)
	store := &memStore{}

	err := RunPINCapture(context.Background(), newTestSession(), b, store)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34}, store.block)
	assert.Empty(t, icc.tx, "the captured VERIFY never reaches the card")
}

func TestRunPINCaptureBadFormat(t *testing.T) {
	t.Parallel()

	// Enciphered PIN (P2 != 0x80) cannot be captured.
	term := &mockChannel{rx: []byte{0x00, 0x20, 0x00, 0x88, 0x02, 0x12, 0x34}}
	icc := &mockChannel{rx: append([]byte(nil), testATR...)}
	b := NewBridge(term, icc, nil)

	err := RunPINCapture(context.Background(), newTestSession(), b, &memStore{})
	require.ErrorIs(t, err, ErrBadPINFormat)
}

// filterScript builds the channel scripts shared by the GENERATE AC
// filter tests: one READ RECORD revealing the CDOL1, then the held
// GENERATE AC carrying the amount 1.00.
func filterScript() (term, icc *mockChannel) {
	record := []byte{0x70, 0x05, 0x8C, 0x03, 0x9F, 0x02, 0x06}
	term = &mockChannel{rx: []byte{
		0x00, 0xB2, 0x01, 0x0C, 0x07,
		0x80, 0xAE, 0x80, 0x00, 0x06, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00,
	}}
	iccRx := append([]byte(nil), testATR...)
	iccRx = append(iccRx, 0xB2)
	iccRx = append(iccRx, record...)
	iccRx = append(iccRx, 0x90, 0x00)
	icc = &mockChannel{rx: iccRx}
	return term, icc
}

func TestRunFilterGenerateACDeny(t *testing.T) {
	t.Parallel()

	term, icc := filterScript()
	b := NewBridge(term, icc, nil)

	var seen string
	confirm := ConfirmerFunc(func(amount string) Decision {
		seen = amount
		return DecisionDeny
	})

	err := RunFilterGenerateAC(context.Background(), newTestSession(), b, confirm)
	require.ErrorIs(t, err, ErrTransactionDenied)
	assert.Equal(t, "000000010000", seen)

	// Only the READ RECORD reached the card.
	assert.Equal(t, []byte{0x00, 0xB2, 0x01, 0x0C, 0x07}, icc.tx)
}

func TestRunFilterGenerateACAccept(t *testing.T) {
	t.Parallel()

	term, icc := filterScript()
	// The card acknowledges the released GENERATE AC and answers with a
	// six byte cryptogram.
	icc.rx = append(icc.rx,
		0xAE,
		0xAE, 0xC1, 0xC2, 0xC3, 0xC4, 0xC5, 0xC6, 0x90, 0x00)
	b := NewBridge(term, icc, nil)

	calls := 0
	confirm := ConfirmerFunc(func(string) Decision {
		calls++
		if calls == 1 {
			return DecisionPending
		}
		return DecisionAccept
	})

	err := RunFilterGenerateAC(context.Background(), newTestSession(), b, confirm)
	require.Error(t, err, "session ends when the terminal line goes quiet")
	assert.NotErrorIs(t, err, ErrTransactionDenied)

	// The held command was released to the card in full.
	acWire := []byte{0x80, 0xAE, 0x80, 0x00, 0x06, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00}
	assert.Equal(t, acWire, icc.tx[5:])

	// While pending, at least one more-time byte kept the terminal alive.
	assert.Contains(t, term.tx, byte(0x60))
	assert.GreaterOrEqual(t, calls, 2)
}

func TestConfirmerFunc(t *testing.T) {
	t.Parallel()

	c := ConfirmerFunc(func(string) Decision { return DecisionAccept })
	assert.Equal(t, DecisionAccept, c.Decide("000000000000"))
}
