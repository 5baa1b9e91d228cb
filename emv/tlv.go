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

// Package emv implements the card-application layer of the interposer:
// the restricted TLV codec used by EMV records, FCI and processing-option
// parsing, CDOL data assembly and a terminal-side transaction engine
// that drives a card through an EMV flow over any APDU transport.
package emv

import (
	"errors"
	"fmt"
)

// TLV codec errors.
var (
	// ErrTLVTruncated means the input ended inside a TLV object.
	ErrTLVTruncated = errors.New("emv: truncated TLV data")
	// ErrTLVLength means a value length cannot be represented in the
	// restricted single-byte length form.
	ErrTLVLength = errors.New("emv: TLV length out of range")
	// ErrBadTemplate means an envelope did not start with the expected
	// template tag.
	ErrBadTemplate = errors.New("emv: unexpected template tag")
)

// extraLengthByte escapes a one-byte length above 127. Longer length
// forms do not occur in the records this codec handles.
const extraLengthByte = 0x81

// MaxValueLength is the largest value the restricted codec can encode.
const MaxValueLength = 255

// TagID packs a one- or two-byte EMV tag into a comparable value. The
// first tag byte sits in the high byte; the low byte is zero for
// single-byte tags.
type TagID uint16

// Tags the transaction engine cares about.
const (
	TagFCITemplate            TagID = 0x6F00
	TagDFName                 TagID = 0x8400
	TagFCIProprietary         TagID = 0xA500
	TagFCIIssuerDiscretionary TagID = 0xBF0C
	TagApplicationTemplate    TagID = 0x6100
	TagRecordTemplate         TagID = 0x7000
	TagResponseFormat1        TagID = 0x8000
	TagResponseFormat2        TagID = 0x7700
	TagAIP                    TagID = 0x8200
	TagAFL                    TagID = 0x9400
	TagSFI                    TagID = 0x8800
	TagPDOL                   TagID = 0x9F38
	TagCDOL1                  TagID = 0x8C00
	TagCDOL2                  TagID = 0x8D00
	TagCommandTemplate        TagID = 0x8300

	TagAmountAuthorized    TagID = 0x9F02
	TagAmountOther         TagID = 0x9F03
	TagTerminalCountry     TagID = 0x9F1A
	TagTVR                 TagID = 0x9500
	TagTransactionCurrency TagID = 0x5F2A
	TagARC                 TagID = 0x8A00
	TagIssuerAuthData      TagID = 0x9100
	TagTransactionDate     TagID = 0x9A00
	TagTransactionType     TagID = 0x9C00
	TagUnpredictableNum    TagID = 0x9F37
	TagTerminalType        TagID = 0x9F35
	TagDataAuthCode        TagID = 0x9F45
	TagICCDynamicNumber    TagID = 0x9F4C
	TagCVMResults          TagID = 0x9F34
)

// hasSecondByte reports whether the first tag byte announces a second.
func hasSecondByte(tag1 byte) bool {
	return tag1&0x1F == 0x1F
}

// ID builds a TagID from the raw tag bytes. tag2 must be zero for
// single-byte tags.
func ID(tag1, tag2 byte) TagID {
	return TagID(tag1)<<8 | TagID(tag2)
}

// Bytes returns the wire form of the tag.
func (t TagID) Bytes() []byte {
	t1 := byte(t >> 8)
	if hasSecondByte(t1) {
		return []byte{t1, byte(t)}
	}
	return []byte{t1}
}

func (t TagID) String() string {
	t1 := byte(t >> 8)
	if hasSecondByte(t1) {
		return fmt.Sprintf("%02X%02X", t1, byte(t))
	}
	return fmt.Sprintf("%02X", t1)
}

// TLV is one tag-length-value object in the restricted EMV encoding:
// tags of one or two bytes and lengths of one byte, optionally escaped
// by 0x81 for values above 127 bytes.
type TLV struct {
	Tag    TagID
	Length int
	Value  []byte
}

// ParseTLV decodes one TLV object from the front of data. When
// includeValue is false only the tag and length are read, which is the
// shape of data object list (DOL) entries. It returns the object and
// the number of bytes consumed.
func ParseTLV(data []byte, includeValue bool) (*TLV, int, error) {
	if len(data) < 2 {
		return nil, 0, ErrTLVTruncated
	}
	i := 0
	tag1 := data[i]
	i++
	var tag2 byte
	if hasSecondByte(tag1) {
		tag2 = data[i]
		i++
	}
	if i >= len(data) {
		return nil, 0, ErrTLVTruncated
	}
	length := int(data[i])
	i++
	if length == extraLengthByte {
		if i >= len(data) {
			return nil, 0, ErrTLVTruncated
		}
		length = int(data[i])
		i++
	}

	tlv := &TLV{Tag: ID(tag1, tag2), Length: length}
	if includeValue {
		if length > len(data)-i {
			return nil, 0, fmt.Errorf("%w: tag %s wants %d bytes, %d left",
				ErrTLVTruncated, tlv.Tag, length, len(data)-i)
		}
		tlv.Value = append([]byte(nil), data[i:i+length]...)
		i += length
	}
	return tlv, i, nil
}

// Serialize returns the wire form of the object. The value length must
// fit the restricted single-byte form.
func (t *TLV) Serialize() ([]byte, error) {
	if t.Length > MaxValueLength || t.Length != len(t.Value) {
		return nil, fmt.Errorf("%w: tag %s length %d with %d value bytes",
			ErrTLVLength, t.Tag, t.Length, len(t.Value))
	}
	out := make([]byte, 0, 4+len(t.Value))
	out = append(out, t.Tag.Bytes()...)
	if t.Length > 127 {
		out = append(out, extraLengthByte)
	}
	out = append(out, byte(t.Length))
	return append(out, t.Value...), nil
}

// Record is an ordered list of TLV objects, typically the children of
// one record template.
type Record []*TLV

// Find returns the first object with the given tag, or nil.
func (r Record) Find(tag TagID) *TLV {
	for _, t := range r {
		if t.Tag == tag {
			return t
		}
	}
	return nil
}

// ParseMany decodes consecutive TLV objects until data is exhausted,
// preserving their order.
func ParseMany(data []byte) (Record, error) {
	var rec Record
	for i := 0; i < len(data); {
		tlv, n, err := ParseTLV(data[i:], true)
		if err != nil {
			return nil, err
		}
		rec = append(rec, tlv)
		i += n
	}
	return rec, nil
}

// ParseRecordEnvelope unwraps a READ RECORD response template (tag 70)
// and decodes its children.
func ParseRecordEnvelope(data []byte) (Record, error) {
	inner, err := unwrapTemplate(data, TagRecordTemplate)
	if err != nil {
		return nil, err
	}
	return ParseMany(inner)
}

// unwrapTemplate checks the outer tag and returns the template value.
func unwrapTemplate(data []byte, want TagID) ([]byte, error) {
	tlv, _, err := ParseTLV(data, true)
	if err != nil {
		return nil, err
	}
	if tlv.Tag != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrBadTemplate, tlv.Tag, want)
	}
	return tlv.Value, nil
}
