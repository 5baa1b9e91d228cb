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

package apdu

// Instruction identifies one of the EMV commands the engine knows how
// to build and classify.
type Instruction int

// Known EMV commands.
const (
	InsSelect Instruction = iota
	InsGetResponse
	InsReadRecord
	InsGetProcessingOptions
	InsVerify
	InsGenerateAC
	InsGetData
	InsInternalAuthenticate
	InsPINChangeUnblock
)

// INS byte values used across the engine.
const (
	insByteSelect       = 0xA4
	insByteGetResponse  = 0xC0
	insByteReadRecord   = 0xB2
	insByteGPO          = 0xA8
	insByteVerify       = 0x20
	insByteGenerateAC   = 0xAE
	insByteGetData      = 0xCA
	insByteInternalAuth = 0x88
	insBytePINChange    = 0x24
)

// DefaultHeader returns the canonical header for a known command, with
// P3 zero. The values mirror the EMV defaults: SELECT by name (P1=04),
// READ RECORD record 1, VERIFY plaintext PIN (P2=80), GET DATA of the
// PIN try counter.
func DefaultHeader(ins Instruction) Header {
	switch ins {
	case InsSelect:
		return Header{Ins: insByteSelect, P1: 0x04}
	case InsGetResponse:
		return Header{Ins: insByteGetResponse}
	case InsReadRecord:
		return Header{Ins: insByteReadRecord, P1: 0x01}
	case InsGetProcessingOptions:
		return Header{Cla: 0x80, Ins: insByteGPO}
	case InsVerify:
		return Header{Ins: insByteVerify, P2: 0x80}
	case InsGenerateAC:
		return Header{Cla: 0x80, Ins: insByteGenerateAC}
	case InsGetData:
		return Header{Cla: 0x80, Ins: insByteGetData, P1: 0x9F, P2: 0x17}
	case InsInternalAuthenticate:
		return Header{Ins: insByteInternalAuth}
	case InsPINChangeUnblock:
		return Header{Cla: 0x8C, Ins: insBytePINChange}
	default:
		return Header{}
	}
}

// NewKnown builds a command from the canonical header of a known
// instruction. When data is present P3 is set to its length.
func NewKnown(ins Instruction, data []byte) *Command {
	hdr := DefaultHeader(ins)
	cmd := NewRaw(hdr, data)
	if len(data) > 0 {
		cmd.Header.P3 = byte(len(data))
	}
	return cmd
}

// Select builds a SELECT-by-name command for a DF or application name.
func Select(name []byte) *Command {
	return NewKnown(InsSelect, name)
}

// GetResponse builds a GET RESPONSE command expecting le bytes back.
func GetResponse(le byte) *Command {
	cmd := NewKnown(InsGetResponse, nil)
	cmd.Header.P3 = le
	return cmd
}

// ReadRecord builds a READ RECORD command for a record within an SFI.
// P2 carries the SFI shifted left by 3 with the b3=1 addressing mode.
func ReadRecord(sfi, record byte) *Command {
	cmd := NewKnown(InsReadRecord, nil)
	cmd.Header.P1 = record
	cmd.Header.P2 = sfi<<3 | 0x04
	return cmd
}

// IsReadRecord reports whether the header is a READ RECORD command.
func (h Header) IsReadRecord() bool {
	return h.Cla&0xF0 == 0x00 && h.Ins == insByteReadRecord
}

// IsGenerateAC reports whether the header is a GENERATE AC command.
func (h Header) IsGenerateAC() bool {
	return h.Cla&0xF0 == 0x80 && h.Ins == insByteGenerateAC
}

// IsVerifyPlaintext reports whether the header is a VERIFY command using
// the plaintext PIN block format.
func (h Header) IsVerifyPlaintext() bool {
	return h.Cla == 0x00 && h.Ins == insByteVerify && h.P2 == 0x80
}

// IsVerify reports whether the header is any VERIFY command.
func (h Header) IsVerify() bool {
	return h.Cla == 0x00 && h.Ins == insByteVerify
}
