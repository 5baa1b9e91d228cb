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
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"
)

// tagNames labels the tags that show up in interposer traces.
var tagNames = map[string]string{
	"6F":   "FCI Template",
	"84":   "DF Name",
	"A5":   "FCI Proprietary Template",
	"BF0C": "FCI Issuer Discretionary Data",
	"61":   "Application Template",
	"4F":   "ADF Name",
	"50":   "Application Label",
	"70":   "Record Template",
	"77":   "Response Format 2",
	"80":   "Response Format 1",
	"82":   "Application Interchange Profile",
	"88":   "Short File Identifier",
	"94":   "Application File Locator",
	"8C":   "CDOL1",
	"8D":   "CDOL2",
	"8E":   "CVM List",
	"5A":   "Application PAN",
	"57":   "Track 2 Equivalent Data",
	"5F24": "Application Expiration Date",
	"5F34": "Application PAN Sequence Number",
	"9F02": "Amount, Authorised",
	"9F08": "Application Version Number",
	"9F36": "Application Transaction Counter",
	"9F38": "PDOL",
	"9F42": "Application Currency Code",
	"9F4A": "Static Data Authentication Tag List",
}

// Describe renders BER-TLV data as an indented human-readable listing.
// Data that does not decode as TLV is shown as a plain hex dump, so the
// function is safe on arbitrary trace payloads.
func Describe(data []byte) string {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return strings.ToUpper(hex.EncodeToString(data))
	}
	var sb strings.Builder
	writePackets(&sb, packets, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func writePackets(sb *strings.Builder, packets []bertlv.TLV, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, p := range packets {
		tag := strings.ToUpper(p.Tag)
		label := tagNames[tag]
		if label == "" {
			label = "Unknown"
		}
		if len(p.TLVs) > 0 {
			fmt.Fprintf(sb, "%s%s (%s)\n", indent, tag, label)
			writePackets(sb, p.TLVs, depth+1)
			continue
		}
		fmt.Fprintf(sb, "%s%s (%s): %s\n", indent, tag, label,
			strings.ToUpper(hex.EncodeToString(p.Value)))
	}
}
