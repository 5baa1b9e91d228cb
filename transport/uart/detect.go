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
	"errors"
	"path/filepath"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrNoPortsFound is returned when detection finds no usable ports.
var ErrNoPortsFound = errors.New("no serial ports found")

// PortInfo describes one detected serial port with the USB metadata
// available for it.
type PortInfo struct {
	// Path is the device path, e.g. /dev/ttyUSB0.
	Path string
	// VIDPID is the USB vendor:product pair in upper-case hex, empty
	// for non-USB ports.
	VIDPID string
	// Serial is the USB serial number, when exposed.
	Serial string
	// Likely marks ports whose adapter chip is commonly used on
	// ISO 7816 probe hardware.
	Likely bool
}

// DetectOptions filters port detection.
type DetectOptions struct {
	// Blocklist skips USB devices by VID:PID (case-insensitive).
	Blocklist []string
	// IgnorePaths skips device paths outright, e.g. a console UART.
	IgnorePaths []string
	// LikelyOnly drops ports that do not look like probe adapters.
	LikelyOnly bool
}

// likelyAdapters are the USB-UART bridge chips found on serial probe
// boards that expose the card I/O line.
var likelyAdapters = []string{
	"067B:2303", // Prolific PL2303
	"0403:6001", // FTDI FT232
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
}

// DetectPorts enumerates serial ports, applies the blocklist and path
// filters and scores each survivor. Detection is descriptor-only; the
// ports are never opened.
func DetectPorts(opts DetectOptions) ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Join(ErrNoPortsFound, err)
	}

	var found []PortInfo
	for _, d := range details {
		info := PortInfo{Path: d.Name}
		if d.IsUSB {
			info.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
			info.Serial = d.SerialNumber
		}
		if isBlocked(info.VIDPID, opts.Blocklist) {
			continue
		}
		if isPathIgnored(info.Path, opts.IgnorePaths) {
			continue
		}
		info.Likely = isLikelyAdapter(info.VIDPID)
		if opts.LikelyOnly && !info.Likely {
			continue
		}
		found = append(found, info)
	}
	if len(found) == 0 {
		return nil, ErrNoPortsFound
	}
	return found, nil
}

// isLikelyAdapter reports whether the VID:PID belongs to a known
// probe-grade USB-UART bridge.
func isLikelyAdapter(vidpid string) bool {
	for _, known := range likelyAdapters {
		if strings.EqualFold(vidpid, known) {
			return true
		}
	}
	return false
}

// isBlocked reports whether the VID:PID appears in the blocklist.
func isBlocked(vidpid string, blocklist []string) bool {
	if vidpid == "" {
		return false
	}
	for _, blocked := range blocklist {
		if strings.EqualFold(strings.TrimSpace(blocked), vidpid) {
			return true
		}
	}
	return false
}

// isPathIgnored reports whether the device path matches an ignore
// entry, compared after cleaning and case folding so /dev/ttyS0 and
// /dev/./ttyS0 collide.
func isPathIgnored(path string, ignorePaths []string) bool {
	if path == "" || len(ignorePaths) == 0 {
		return false
	}
	norm := strings.ToLower(filepath.Clean(path))
	for _, ignore := range ignorePaths {
		if ignore == "" {
			continue
		}
		if path == ignore || norm == strings.ToLower(filepath.Clean(ignore)) {
			return true
		}
	}
	return false
}
