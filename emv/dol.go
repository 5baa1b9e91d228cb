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
	"encoding/hex"
	"strings"
)

// ACType selects the cryptogram requested by GENERATE AC, encoded in P1.
type ACType byte

const (
	// ACTypeAAC requests an application authentication cryptogram
	// (transaction declined).
	ACTypeAAC ACType = 0x00
	// ACTypeTC requests a transaction certificate (offline approval).
	ACTypeTC ACType = 0x40
	// ACTypeARQC requests an authorization request cryptogram (online).
	ACTypeARQC ACType = 0x80
)

func (a ACType) String() string {
	switch a {
	case ACTypeAAC:
		return "AAC"
	case ACTypeTC:
		return "TC"
	case ACTypeARQC:
		return "ARQC"
	default:
		return "unknown"
	}
}

// GenerateACParams carries the terminal-side data objects a CDOL can
// ask for. Fields are in the card's expected encodings: amounts are
// 6-byte BCD, the date is YYMMDD BCD.
type GenerateACParams struct {
	AmountAuthorized    [6]byte
	AmountOther         [6]byte
	TerminalCountryCode [2]byte
	TVR                 [5]byte
	TransactionCurrency [2]byte
	ARC                 [2]byte
	IssuerAuthData      [8]byte
	TransactionDate     [3]byte
	TransactionType     byte
	UnpredictableNumber [4]byte
	TerminalType        byte
	DataAuthCode        [2]byte
	ICCDynamicNumber    [8]byte
	CVMResults          [3]byte
}

// lookup returns the parameter bytes for a CDOL tag, or nil when the
// tag is not one the terminal can supply.
func (p *GenerateACParams) lookup(tag TagID) []byte {
	switch tag {
	case TagAmountAuthorized:
		return p.AmountAuthorized[:]
	case TagAmountOther:
		return p.AmountOther[:]
	case TagTerminalCountry:
		return p.TerminalCountryCode[:]
	case TagTVR:
		return p.TVR[:]
	case TagTransactionCurrency:
		return p.TransactionCurrency[:]
	case TagARC:
		return p.ARC[:]
	case TagIssuerAuthData:
		return p.IssuerAuthData[:]
	case TagTransactionDate:
		return p.TransactionDate[:]
	case TagTransactionType:
		return []byte{p.TransactionType}
	case TagUnpredictableNum:
		return p.UnpredictableNumber[:]
	case TagTerminalType:
		return []byte{p.TerminalType}
	case TagDataAuthCode:
		return p.DataAuthCode[:]
	case TagICCDynamicNumber:
		return p.ICCDynamicNumber[:]
	case TagCVMResults:
		return p.CVMResults[:]
	default:
		return nil
	}
}

// BuildDOLData assembles the concatenated data the card asked for in a
// data object list. Each entry gets exactly the length it requested:
// known tags are copied and zero-padded, unknown tags are zero-filled
// in full. The tags that were zero-filled are returned so a caller can
// see which requests it could not satisfy.
func BuildDOLData(dol *TLV, params *GenerateACParams) ([]byte, []TagID, error) {
	out := make([]byte, 0, 64)
	var defaulted []TagID
	src := dol.Value
	for i := 0; i < len(src); {
		entry, n, err := ParseTLV(src[i:], false)
		if err != nil {
			return nil, nil, err
		}
		i += n

		field := params.lookup(entry.Tag)
		if field == nil {
			defaulted = append(defaulted, entry.Tag)
			out = append(out, make([]byte, entry.Length)...)
			continue
		}
		k := entry.Length
		if k > len(field) {
			k = len(field)
		}
		out = append(out, field[:k]...)
		out = append(out, make([]byte, entry.Length-k)...)
	}
	return out, defaulted, nil
}

// AmountPositionInCDOLRecord locates the authorized-amount entry (tag
// 9F02) inside a CDOL1 (tag 8C) carried by a record. The returned
// position is 1-based; 0 means the record has no CDOL1 or its CDOL1 has
// no amount entry.
func AmountPositionInCDOLRecord(rec Record) int {
	cdol := rec.Find(TagCDOL1)
	if cdol == nil {
		return 0
	}
	for i := 0; i < len(cdol.Value); {
		entry, n, err := ParseTLV(cdol.Value[i:], false)
		if err != nil {
			return 0
		}
		if entry.Tag == TagAmountAuthorized {
			return i + 1
		}
		i += n
	}
	return 0
}

// DecodeAmountBCD renders a 6-byte BCD amount as its 12 digits.
func DecodeAmountBCD(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
