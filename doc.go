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

// Package emvwedge implements both sides of the ISO 7816-3 / EMV T=0
// protocol so a device can sit between a payment terminal and an ICC:
// answering the terminal as a card while driving the real card as a
// terminal.
//
// The package provides the ByteChannel abstraction over a half-duplex
// serial line, ATR capture and validation, the role-parameterized T0
// transport (procedure-byte negotiation, guard timing, more-time
// handling), and the session Bridge with its application modes: plain
// forwarding, forward-and-log, GENERATE AC interception with user
// confirmation, PIN substitution and PIN capture.
//
// Concrete channels live in the transport subpackages (uart, gpio);
// the terminal-side EMV transaction engine and TLV codec live in the
// emv subpackage.
package emvwedge
