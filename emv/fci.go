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

import "fmt"

// FCI is the file control information returned by a successful SELECT:
// the DF name (tag 84) and the proprietary template children (tag A5).
type FCI struct {
	DFName      []byte
	Proprietary Record
}

// ParseFCI decodes a SELECT response. The outer template must be tag
// 6F and both the DF name and the proprietary template are mandatory.
func ParseFCI(data []byte) (*FCI, error) {
	inner, err := unwrapTemplate(data, TagFCITemplate)
	if err != nil {
		return nil, err
	}
	children, err := ParseMany(inner)
	if err != nil {
		return nil, err
	}
	name := children.Find(TagDFName)
	if name == nil {
		return nil, fmt.Errorf("%w: FCI without DF name", ErrBadTemplate)
	}
	prop := children.Find(TagFCIProprietary)
	if prop == nil {
		return nil, fmt.Errorf("%w: FCI without proprietary template", ErrBadTemplate)
	}
	propChildren, err := ParseMany(prop.Value)
	if err != nil {
		return nil, err
	}
	return &FCI{DFName: name.Value, Proprietary: propChildren}, nil
}

// PDOL returns the processing options data object list advertised in
// the FCI, or an empty PDOL when the card does not publish one.
func (f *FCI) PDOL() *TLV {
	if t := f.Proprietary.Find(TagPDOL); t != nil {
		return t
	}
	return &TLV{Tag: TagPDOL}
}

// SFIFromSelect scans a SELECT response for the short file identifier
// object (tag 88) and returns its value. It mirrors the lenient scan
// real directory entries need: the tag is located by value, not by
// walking the nested templates.
func SFIFromSelect(data []byte) (byte, error) {
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0x88 {
			return data[i+2], nil
		}
	}
	return 0, fmt.Errorf("%w: SELECT response without SFI", ErrBadTemplate)
}

// ParsePSD decodes one payment system directory record into the
// directory entries it carries. Every child of the record template must
// be an application template (tag 61); the first object inside each
// entry is the ADF name.
func ParsePSD(data []byte) ([]Record, error) {
	children, err := ParseRecordEnvelope(data)
	if err != nil {
		return nil, err
	}
	entries := make([]Record, 0, len(children))
	for _, child := range children {
		if child.Tag != TagApplicationTemplate {
			return nil, fmt.Errorf("%w: directory entry tag %s", ErrBadTemplate, child.Tag)
		}
		entry, err := ParseMany(child.Value)
		if err != nil {
			return nil, err
		}
		if len(entry) == 0 {
			return nil, fmt.Errorf("%w: empty directory entry", ErrBadTemplate)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
