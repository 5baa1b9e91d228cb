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

package emv

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emvwedge/go-emvwedge/apdu"
)

// scriptedCard is a CardTransport that replays canned responses and
// records the commands it was given.
type scriptedCard struct {
	t     *testing.T
	resps []*apdu.Response
	cmds  []*apdu.Command
}

func (s *scriptedCard) Exchange(cmd *apdu.Command) (*apdu.Response, error) {
	require.NotEmpty(s.t, s.resps, "card ran out of scripted responses")
	s.cmds = append(s.cmds, cmd.Clone())
	resp := s.resps[0]
	s.resps = s.resps[1:]
	return resp, nil
}

func ok(data ...byte) *apdu.Response {
	return apdu.NewResponse(data, apdu.StatusWord{SW1: 0x90, SW2: 0x00})
}

func status(sw1, sw2 byte) *apdu.Response {
	return apdu.NewResponse(nil, apdu.StatusWord{SW1: sw1, SW2: sw2})
}

func TestSendChainsGetResponse(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		apdu.NewResponse([]byte{0x01, 0x02}, apdu.StatusWord{SW1: 0x61, SW2: 0x05}),
		ok(0x03, 0x04, 0x05, 0x06, 0x07),
	}}
	term := NewTerminal(card)

	resp, err := term.Send(context.Background(), apdu.Select(testAID))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}, resp.Data)
	assert.True(t, resp.Status.IsSuccess())

	require.Len(t, card.cmds, 2)
	follow := card.cmds[1]
	assert.Equal(t, byte(0xC0), follow.Header.Ins)
	assert.Equal(t, byte(0x05), follow.Header.P3)
}

func TestSendRetriesWrongLength(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0xAB}, 0x10)
	card := &scriptedCard{t: t, resps: []*apdu.Response{
		status(0x6C, 0x10),
		ok(payload...),
	}}
	term := NewTerminal(card)

	cmd := apdu.ReadRecord(1, 1)
	resp, err := term.Send(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, payload, resp.Data)

	require.Len(t, card.cmds, 2)
	resent := card.cmds[1]
	assert.Equal(t, cmd.Header.Ins, resent.Header.Ins)
	assert.Equal(t, cmd.Header.P1, resent.Header.P1)
	assert.Equal(t, cmd.Header.P2, resent.Header.P2)
	assert.Equal(t, byte(0x10), resent.Header.P3)
}

func TestSendFollowsWarningStatus(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		status(0x63, 0xC2),
		status(0x6A, 0x86),
	}}
	term := NewTerminal(card)

	resp, err := term.Send(context.Background(), apdu.NewKnown(apdu.InsVerify, []byte{0x24, 0x12}))
	require.NoError(t, err)
	assert.Equal(t, apdu.StatusWord{SW1: 0x6A, SW2: 0x86}, resp.Status)

	require.Len(t, card.cmds, 2)
	assert.Equal(t, byte(0xC0), card.cmds[1].Header.Ins)
	assert.Equal(t, byte(0x00), card.cmds[1].Header.P3)
}

func TestSendHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	term := NewTerminal(&scriptedCard{t: t})
	_, err := term.Send(ctx, apdu.Select(testAID))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSelectApplicationThroughDirectory(t *testing.T) {
	t.Parallel()

	entry := append([]byte{0x4F, byte(len(testAID))}, testAID...)
	inner := append([]byte{0x61, byte(len(entry))}, entry...)
	psd := append([]byte{0x70, byte(len(inner))}, inner...)

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		ok(0x88, 0x01, 0x01),    // SELECT PSE, SFI 1
		ok(psd...),              // READ RECORD 1
		status(0x6A, 0x83),      // READ RECORD 2, end of directory
		ok(buildFCI(testAID, []byte{0x88, 0x01, 0x01})...), // SELECT ADF
	}}
	term := NewTerminal(card)

	fci, err := term.SelectApplication(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, testAID, fci.DFName)

	require.Len(t, card.cmds, 4)
	assert.Equal(t, PSEName, card.cmds[0].Data)
	assert.Equal(t, byte(0x0C), card.cmds[1].Header.P2) // SFI 1, mode b3
	assert.Equal(t, byte(0x01), card.cmds[1].Header.P1)
	assert.Equal(t, byte(0x02), card.cmds[2].Header.P1)
	assert.Equal(t, testAID, card.cmds[3].Data)
}

func TestSelectApplicationFallsBackToAIDList(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		status(0x6A, 0x82), // no PSE
		status(0x6A, 0x82), // first AID absent
		status(0x62, 0x83), // second AID blocked
		ok(buildFCI(DefaultAIDs[2], []byte{0x88, 0x01, 0x01})...),
	}}
	term := NewTerminal(card)

	fci, err := term.SelectApplication(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAIDs[2], fci.DFName)

	require.Len(t, card.cmds, 4)
	assert.Equal(t, DefaultAIDs[0], card.cmds[1].Data)
	assert.Equal(t, DefaultAIDs[1], card.cmds[2].Data)
	assert.Equal(t, DefaultAIDs[2], card.cmds[3].Data)
}

func TestSelectApplicationExplicitAIDOnly(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		status(0x6A, 0x82),
		status(0x6A, 0x82),
	}}
	term := NewTerminal(card)

	_, err := term.SelectApplication(context.Background(), testAID)
	require.ErrorIs(t, err, ErrSelectionFailed)
	require.Len(t, card.cmds, 2)
	assert.Equal(t, testAID, card.cmds[1].Data)
}

func TestSelectApplicationHardFailure(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		status(0x69, 0x85),
	}}
	term := NewTerminal(card)

	_, err := term.SelectApplication(context.Background(), nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, apdu.StatusWord{SW1: 0x69, SW2: 0x85}, se.SW)
}

func TestInitializeTransaction(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		ok(0x80, 0x06, 0x58, 0x00, 0x08, 0x01, 0x02, 0x01),
	}}
	term := NewTerminal(card)

	fci := &FCI{
		DFName:      testAID,
		Proprietary: Record{{Tag: TagPDOL, Length: 3, Value: []byte{0x9F, 0x1A, 0x02}}},
	}
	info, err := term.InitializeTransaction(context.Background(), fci)
	require.NoError(t, err)
	assert.Equal(t, [2]byte{0x58, 0x00}, info.AIP)

	require.Len(t, card.cmds, 1)
	gpo := card.cmds[0]
	assert.Equal(t, byte(0x80), gpo.Header.Cla)
	assert.Equal(t, byte(0xA8), gpo.Header.Ins)
	// Command template carrying the PDOL's raw tag-length list.
	assert.Equal(t, []byte{0x83, 0x03, 0x9F, 0x1A, 0x02}, gpo.Data)
}

func TestInitializeTransactionWithoutPDOL(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		ok(0x80, 0x06, 0x58, 0x00, 0x08, 0x01, 0x02, 0x01),
	}}
	term := NewTerminal(card)

	info, err := term.InitializeTransaction(context.Background(), &FCI{DFName: testAID})
	require.NoError(t, err)
	require.Len(t, info.AFL, 1)
	assert.Equal(t, []byte{0x83, 0x00}, card.cmds[0].Data)
}

func TestGetTransactionData(t *testing.T) {
	t.Parallel()

	rec1 := []byte{0x70, 0x05, 0x8C, 0x03, 0x9F, 0x02, 0x06}
	rec2 := []byte{0x70, 0x03, 0x5A, 0x01, 0x99}
	card := &scriptedCard{t: t, resps: []*apdu.Response{
		ok(rec1...),
		ok(rec2...),
	}}
	term := NewTerminal(card)

	info := &ApplicationInfo{
		AIP: [2]byte{0x58, 0x00},
		AFL: []AFLEntry{{SFI: 0x08, RecordStart: 1, RecordEnd: 2, OfflineAuthCount: 1}},
	}
	var offline bytes.Buffer
	rec, err := term.GetTransactionData(context.Background(), info, &offline)
	require.NoError(t, err)

	require.Len(t, card.cmds, 2)
	assert.Equal(t, byte(0x01), card.cmds[0].Header.P1)
	assert.Equal(t, byte(0x0C), card.cmds[0].Header.P2)
	assert.Equal(t, byte(0x02), card.cmds[1].Header.P1)

	// Only the first record feeds offline authentication, without its
	// template header.
	assert.Equal(t, rec1[2:], offline.Bytes())

	require.NotNil(t, rec.Find(TagCDOL1))
	require.NotNil(t, rec.Find(ID(0x5A, 0)))
}

func TestGetTransactionDataReadFailure(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		status(0x6A, 0x83),
	}}
	term := NewTerminal(card)

	info := &ApplicationInfo{AFL: []AFLEntry{{SFI: 0x08, RecordStart: 1, RecordEnd: 1}}}
	_, err := term.GetTransactionData(context.Background(), info, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
}

func TestSendGenerateAC(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		ok(0x80, 0x01, 0x40),
	}}
	term := NewTerminal(card)

	cdol := &TLV{Tag: TagCDOL1, Value: []byte{
		0x9F, 0x02, 0x06,
		0xDF, 0x01, 0x02,
	}}
	params := &GenerateACParams{AmountAuthorized: [6]byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x00}}

	resp, defaulted, err := term.SendGenerateAC(context.Background(), ACTypeARQC, cdol, params)
	require.NoError(t, err)
	assert.True(t, resp.Status.IsSuccess())
	assert.Equal(t, []TagID{ID(0xDF, 0x01)}, defaulted)

	require.Len(t, card.cmds, 1)
	cmd := card.cmds[0]
	assert.Equal(t, byte(0x80), cmd.Header.Cla)
	assert.Equal(t, byte(0xAE), cmd.Header.Ins)
	assert.Equal(t, byte(ACTypeARQC), cmd.Header.P1)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}, cmd.Data)
	assert.Equal(t, byte(0x08), cmd.Header.P3)
}

func TestVerifyPlaintextPIN(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		status(0x90, 0x00),
	}}
	term := NewTerminal(card)

	block := []byte{0x24, 0x12, 0x34, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	require.NoError(t, term.VerifyPlaintextPIN(context.Background(), block))

	cmd := card.cmds[0]
	assert.Equal(t, byte(0x20), cmd.Header.Ins)
	assert.Equal(t, byte(0x80), cmd.Header.P2)
	assert.Equal(t, block, cmd.Data)
}

func TestVerifyPlaintextPINRejected(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		status(0x69, 0x83),
	}}
	term := NewTerminal(card)

	err := term.VerifyPlaintextPIN(context.Background(), []byte{0x24, 0x12})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, apdu.StatusWord{SW1: 0x69, SW2: 0x83}, se.SW)
}

func TestGetDataObject(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		ok(0x9F, 0x36, 0x02, 0x00, 0x10),
	}}
	term := NewTerminal(card)

	value, err := term.GetDataObject(context.Background(), PDOATC)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x10}, value)

	cmd := card.cmds[0]
	assert.Equal(t, byte(0xCA), cmd.Header.Ins)
	assert.Equal(t, byte(0x9F), cmd.Header.P1)
	assert.Equal(t, byte(PDOATC), cmd.Header.P2)
}

func TestSignDynamicData(t *testing.T) {
	t.Parallel()

	card := &scriptedCard{t: t, resps: []*apdu.Response{
		ok(0xAA, 0xBB),
	}}
	term := NewTerminal(card)

	resp, err := term.SignDynamicData(context.Background(), []byte{0x01, 0x02, 0x03, 0x04})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, resp.Data)

	cmd := card.cmds[0]
	assert.Equal(t, byte(0x88), cmd.Header.Ins)
	assert.Equal(t, byte(0x04), cmd.Header.P3)
}
