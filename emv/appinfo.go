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

// AFLEntry locates a group of records in one file. SFI keeps the raw
// encoding from the card (already shifted left by 3), ready to be OR-ed
// with the READ RECORD addressing mode.
type AFLEntry struct {
	SFI              byte
	RecordStart      byte
	RecordEnd        byte
	OfflineAuthCount byte
}

// ApplicationInfo is the outcome of GET PROCESSING OPTIONS: the
// application interchange profile and the application file locator.
type ApplicationInfo struct {
	AIP [2]byte
	AFL []AFLEntry
}

// ParseApplicationInfo decodes a GET PROCESSING OPTIONS response in
// either response format: format 1 (tag 80, AIP and AFL concatenated)
// or format 2 (tag 77, AIP and AFL as separate objects). Both formats
// yield the same ApplicationInfo for the same profile and locator.
func ParseApplicationInfo(data []byte) (*ApplicationInfo, error) {
	tlv, _, err := ParseTLV(data, true)
	if err != nil {
		return nil, err
	}
	switch tlv.Tag {
	case TagResponseFormat1:
		return parseAppInfoFlat(tlv.Value)
	case TagResponseFormat2:
		return parseAppInfoConstructed(tlv.Value)
	default:
		return nil, fmt.Errorf("%w: processing options tag %s", ErrBadTemplate, tlv.Tag)
	}
}

func parseAppInfoFlat(v []byte) (*ApplicationInfo, error) {
	if len(v) < 2 || (len(v)-2)%4 != 0 {
		return nil, fmt.Errorf("%w: format 1 processing options of %d bytes", ErrTLVTruncated, len(v))
	}
	info := &ApplicationInfo{AIP: [2]byte{v[0], v[1]}}
	for i := 2; i < len(v); i += 4 {
		info.AFL = append(info.AFL, AFLEntry{
			SFI:              v[i],
			RecordStart:      v[i+1],
			RecordEnd:        v[i+2],
			OfflineAuthCount: v[i+3],
		})
	}
	return info, nil
}

func parseAppInfoConstructed(v []byte) (*ApplicationInfo, error) {
	children, err := ParseMany(v)
	if err != nil {
		return nil, err
	}
	info := &ApplicationInfo{}
	seenAIP := false
	for _, child := range children {
		switch child.Tag {
		case TagAIP:
			if len(child.Value) != 2 {
				return nil, fmt.Errorf("%w: AIP of %d bytes", ErrTLVTruncated, len(child.Value))
			}
			info.AIP = [2]byte{child.Value[0], child.Value[1]}
			seenAIP = true
		case TagAFL:
			if len(child.Value)%4 != 0 {
				return nil, fmt.Errorf("%w: AFL of %d bytes", ErrTLVTruncated, len(child.Value))
			}
			for i := 0; i < len(child.Value); i += 4 {
				info.AFL = append(info.AFL, AFLEntry{
					SFI:              child.Value[i],
					RecordStart:      child.Value[i+1],
					RecordEnd:        child.Value[i+2],
					OfflineAuthCount: child.Value[i+3],
				})
			}
		default:
			// Other children are allowed and ignored.
		}
	}
	if !seenAIP {
		return nil, fmt.Errorf("%w: format 2 processing options without AIP", ErrBadTemplate)
	}
	return info, nil
}
