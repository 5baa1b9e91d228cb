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
	"errors"
	"fmt"

	"github.com/emvwedge/go-emvwedge/apdu"
)

// ErrSelectionFailed means no application could be selected, neither
// through the payment system directory nor from the AID list.
var ErrSelectionFailed = errors.New("emv: application selection failed")

// StatusError reports a command the card answered with an error status.
type StatusError struct {
	Op string
	SW apdu.StatusWord
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("emv: %s failed with status %s", e.Op, e.SW)
}

// PSEName is the payment system environment directory name.
var PSEName = []byte("1PAY.SYS.DDF01")

// DefaultAIDs is the list of application identifiers tried when the
// card has no payment system directory and the caller names no AID.
var DefaultAIDs = [][]byte{
	{0xA0, 0x00, 0x00, 0x00, 0x29, 0x10, 0x10},
	{0xA0, 0x00, 0x00, 0x00, 0x03, 0x10, 0x10},
	{0xA0, 0x00, 0x00, 0x00, 0x04, 0x10, 0x10},
	{0xA0, 0x00, 0x00, 0x00, 0x03, 0x80, 0x02},
	{0xA0, 0x00, 0x00, 0x00, 0x04, 0x80, 0x02},
	{0xA0, 0x00, 0x00, 0x02, 0x44, 0x00, 0x10},
}

// PDO identifies a primitive data object retrievable with GET DATA.
type PDO byte

// Primitive data objects the engine knows how to fetch.
const (
	PDOATC           PDO = 0x36
	PDOLastATC       PDO = 0x13
	PDOPINTryCounter PDO = 0x17
	PDOLogFormat     PDO = 0x4F
)

// CardTransport moves one command APDU to a card and returns its
// response, without any status-driven continuation. Both a live T=0
// link and a PC/SC reader satisfy it.
type CardTransport interface {
	Exchange(cmd *apdu.Command) (*apdu.Response, error)
}

// Terminal drives a card through an EMV transaction over a transport.
// It owns the continuation handling a real terminal performs: GET
// RESPONSE chaining and wrong-length retries.
type Terminal struct {
	tr CardTransport

	// Choose picks a directory entry when the payment system directory
	// lists several applications. It receives the candidate ADF names
	// and returns an index. Nil picks the first entry.
	Choose func(adfs [][]byte) int
}

// NewTerminal returns a terminal engine over the transport.
func NewTerminal(tr CardTransport) *Terminal {
	return &Terminal{tr: tr}
}

// Send performs one complete command exchange, following the card's
// status-driven continuation until a final status arrives: 61xx and the
// 62xx/63xx warnings trigger GET RESPONSE (with SW2 as the expected
// length for 61xx), and 6Cxx resends the command with the corrected P3.
// Data from all continuation steps is concatenated in order.
func (t *Terminal) Send(ctx context.Context, cmd *apdu.Command) (*apdu.Response, error) {
	cur := cmd.Clone()
	var acc []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := t.tr.Exchange(cur)
		if err != nil {
			return nil, err
		}
		data := append(append([]byte(nil), acc...), resp.Data...)

		switch resp.Status.SW1 {
		case apdu.SW1MoreData, apdu.SW1Warning1, apdu.SW1Warning2:
			acc = data
			next := apdu.GetResponse(0)
			if resp.Status.SW1 == apdu.SW1MoreData {
				next.Header.P3 = resp.Status.SW2
			}
			cur = next
		case apdu.SW1WrongLength:
			acc = data
			cur = cmd.Clone()
			cur.Header.P3 = resp.Status.SW2
		default:
			return apdu.NewResponse(data, resp.Status), nil
		}
	}
}

// send runs a command and requires a 9000 final status.
func (t *Terminal) send(ctx context.Context, op string, cmd *apdu.Command) (*apdu.Response, error) {
	resp, err := t.Send(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("emv: %s: %w", op, err)
	}
	if !resp.Status.IsSuccess() {
		return nil, &StatusError{Op: op, SW: resp.Status}
	}
	return resp, nil
}

// SelectApplication selects a payment application. The payment system
// directory is tried first; when the card has none (status 6A82 or
// 6283) the engine falls back to direct selection of aid, or of the
// default AID list when aid is nil. It returns the selected
// application's FCI.
func (t *Terminal) SelectApplication(ctx context.Context, aid []byte) (*FCI, error) {
	resp, err := t.Send(ctx, apdu.Select(PSEName))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.Status.IsSuccess():
		return t.selectFromPSE(ctx, resp.Data)
	case noSuchApplication(resp.Status):
		return t.selectFromAIDs(ctx, aid)
	default:
		return nil, &StatusError{Op: "SELECT payment system directory", SW: resp.Status}
	}
}

// noSuchApplication matches the statuses a card returns for an absent
// or blocked file during selection.
func noSuchApplication(sw apdu.StatusWord) bool {
	return (sw.SW1 == 0x6A && sw.SW2 == 0x82) || (sw.SW1 == 0x62 && sw.SW2 == 0x83)
}

// selectFromPSE walks the payment system directory records, collects
// the advertised applications and selects one of them.
func (t *Terminal) selectFromPSE(ctx context.Context, selectData []byte) (*FCI, error) {
	sfi, err := SFIFromSelect(selectData)
	if err != nil {
		return nil, err
	}

	var entries []Record
	for record := byte(1); ; record++ {
		resp, err := t.Send(ctx, apdu.ReadRecord(sfi, record))
		if err != nil {
			return nil, err
		}
		if !resp.Status.IsSuccess() || len(resp.Data) == 0 {
			break
		}
		recs, err := ParsePSD(resp.Data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, recs...)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty payment system directory", ErrSelectionFailed)
	}

	adfs := make([][]byte, len(entries))
	for i, e := range entries {
		adfs[i] = e[0].Value
	}
	pick := 0
	if t.Choose != nil {
		pick = t.Choose(adfs)
	}
	if pick < 0 || pick >= len(adfs) {
		return nil, fmt.Errorf("%w: directory entry %d of %d", ErrSelectionFailed, pick, len(adfs))
	}

	resp, err := t.send(ctx, "SELECT application", apdu.Select(adfs[pick]))
	if err != nil {
		return nil, err
	}
	return ParseFCI(resp.Data)
}

// selectFromAIDs selects an application directly by identifier. With an
// explicit aid only that one is tried; otherwise the default list is
// walked until a card answers.
func (t *Terminal) selectFromAIDs(ctx context.Context, aid []byte) (*FCI, error) {
	candidates := DefaultAIDs
	if len(aid) > 0 {
		candidates = [][]byte{aid}
	}
	for _, c := range candidates {
		resp, err := t.Send(ctx, apdu.Select(c))
		if err != nil {
			return nil, err
		}
		switch {
		case resp.Status.IsSuccess():
			return ParseFCI(resp.Data)
		case noSuchApplication(resp.Status):
			continue
		default:
			return nil, &StatusError{Op: fmt.Sprintf("SELECT AID %X", c), SW: resp.Status}
		}
	}
	return nil, fmt.Errorf("%w: no candidate AID present", ErrSelectionFailed)
}

// InitializeTransaction issues GET PROCESSING OPTIONS. The card's PDOL
// from the FCI is re-tagged as the command template (tag 83) and sent
// back as-is, so the data field carries the PDOL's raw tag-length
// list; a card without a PDOL gets an empty template.
func (t *Terminal) InitializeTransaction(ctx context.Context, fci *FCI) (*ApplicationInfo, error) {
	pdol := fci.PDOL()
	tmpl := &TLV{Tag: TagCommandTemplate, Length: pdol.Length, Value: pdol.Value}
	wire, err := tmpl.Serialize()
	if err != nil {
		return nil, err
	}
	resp, err := t.send(ctx, "GET PROCESSING OPTIONS", apdu.NewKnown(apdu.InsGetProcessingOptions, wire))
	if err != nil {
		return nil, err
	}
	return ParseApplicationInfo(resp.Data)
}

// GetTransactionData reads every record the application file locator
// names and returns their merged TLV objects. When offlineAuth is not
// nil, the records flagged for offline data authentication are
// appended to it: records from files above SFI 0x50 verbatim, others
// with the record template header stripped.
func (t *Terminal) GetTransactionData(ctx context.Context, info *ApplicationInfo, offlineAuth *bytes.Buffer) (Record, error) {
	var all Record
	for _, entry := range info.AFL {
		for j := entry.RecordStart; j <= entry.RecordEnd; j++ {
			cmd := apdu.ReadRecord(0, j)
			cmd.Header.P2 = entry.SFI | 0x04
			resp, err := t.send(ctx, "READ RECORD", cmd)
			if err != nil {
				return nil, err
			}
			if len(resp.Data) < 2 {
				continue
			}

			if offlineAuth != nil && int(entry.OfflineAuthCount) > int(j-entry.RecordStart) {
				if entry.SFI > 0x50 {
					offlineAuth.Write(resp.Data)
				} else {
					skip := 2
					if resp.Data[1] == extraLengthByte {
						skip = 3
					}
					offlineAuth.Write(resp.Data[skip:])
				}
			}

			rec, err := ParseRecordEnvelope(resp.Data)
			if err != nil {
				return nil, err
			}
			all = append(all, rec...)
		}
	}
	return all, nil
}

// SendGenerateAC requests a cryptogram. The command data is assembled
// from the CDOL; the returned tag list names the CDOL entries the
// terminal could not supply and had to zero-fill.
func (t *Terminal) SendGenerateAC(ctx context.Context, acType ACType, cdol *TLV, params *GenerateACParams) (*apdu.Response, []TagID, error) {
	data, defaulted, err := BuildDOLData(cdol, params)
	if err != nil {
		return nil, nil, err
	}
	cmd := apdu.NewKnown(apdu.InsGenerateAC, data)
	cmd.Header.P1 = byte(acType)
	resp, err := t.send(ctx, "GENERATE AC", cmd)
	if err != nil {
		return nil, defaulted, err
	}
	return resp, defaulted, nil
}

// VerifyPlaintextPIN sends a plaintext VERIFY with the given PIN block.
// Any status other than 9000 is an error carrying the card's status.
func (t *Terminal) VerifyPlaintextPIN(ctx context.Context, block []byte) error {
	_, err := t.send(ctx, "VERIFY", apdu.NewKnown(apdu.InsVerify, block))
	return err
}

// SignDynamicData issues INTERNAL AUTHENTICATE over the given data and
// returns the card's signature response.
func (t *Terminal) SignDynamicData(ctx context.Context, data []byte) (*apdu.Response, error) {
	return t.send(ctx, "INTERNAL AUTHENTICATE", apdu.NewKnown(apdu.InsInternalAuthenticate, data))
}

// GetDataObject fetches a primitive data object and returns its value.
func (t *Terminal) GetDataObject(ctx context.Context, pdo PDO) ([]byte, error) {
	cmd := apdu.NewKnown(apdu.InsGetData, nil)
	cmd.Header.P2 = byte(pdo)
	resp, err := t.send(ctx, "GET DATA", cmd)
	if err != nil {
		return nil, err
	}
	tlv, _, err := ParseTLV(resp.Data, true)
	if err != nil {
		return nil, err
	}
	return tlv.Value, nil
}
