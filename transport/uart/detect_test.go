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

package uart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLikelyAdapter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		vidpid string
		want   bool
	}{
		{"ftdi", "0403:6001", true},
		{"ftdi lower case", "0403:6001", true},
		{"cp210x", "10C4:EA60", true},
		{"ch340", "1a86:7523", true},
		{"pl2303", "067B:2303", true},
		{"random device", "1234:5678", false},
		{"non-usb port", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isLikelyAdapter(tt.vidpid))
		})
	}
}

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	blocklist := []string{"1234:5678", " abcd:ef01 "}

	assert.True(t, isBlocked("1234:5678", blocklist))
	assert.True(t, isBlocked("ABCD:EF01", blocklist), "comparison is case-insensitive and trimmed")
	assert.False(t, isBlocked("0403:6001", blocklist))
	assert.False(t, isBlocked("", blocklist), "non-USB ports are never blocked")
	assert.False(t, isBlocked("1234:5678", nil))
}

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		ignores []string
		want    bool
	}{
		{"exact match", "/dev/ttyAMA0", []string{"/dev/ttyAMA0"}, true},
		{"cleaned match", "/dev/./ttyAMA0", []string{"/dev/ttyAMA0"}, true},
		{"case folded", "COM3", []string{"com3"}, true},
		{"no match", "/dev/ttyUSB0", []string{"/dev/ttyAMA0"}, false},
		{"empty ignore entries skipped", "/dev/ttyUSB0", []string{""}, false},
		{"nil list", "/dev/ttyUSB0", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isPathIgnored(tt.path, tt.ignores))
		})
	}
}
