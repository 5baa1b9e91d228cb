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

package emvwedge

import (
	"fmt"
	"os"
)

// MaxPINBlock is the largest PIN block the store accepts.
const MaxPINBlock = 8

// PINStore persists one PIN block. It is written only by the PIN
// capture flow and read only by the PIN substitution flow.
type PINStore interface {
	Store(block []byte) error
	Load() ([]byte, error)
}

// FilePINStore keeps the PIN block in a file using the device layout:
// one length byte followed by up to 8 block bytes at a fixed offset.
type FilePINStore struct {
	Path   string
	Offset int64
}

// NewFilePINStore returns a store backed by the given file at offset 0.
func NewFilePINStore(path string) *FilePINStore {
	return &FilePINStore{Path: path}
}

// Store writes the PIN block.
func (s *FilePINStore) Store(block []byte) error {
	if len(block) == 0 || len(block) > MaxPINBlock {
		return fmt.Errorf("%w: block of %d bytes", ErrBadPINFormat, len(block))
	}
	f, err := os.OpenFile(s.Path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("open PIN store: %w", err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 1+MaxPINBlock)
	buf[0] = byte(len(block))
	copy(buf[1:], block)
	if _, err := f.WriteAt(buf, s.Offset); err != nil {
		return fmt.Errorf("write PIN store: %w", err)
	}
	return f.Sync()
}

// Load reads the stored PIN block.
func (s *FilePINStore) Load() ([]byte, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open PIN store: %w", err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 1+MaxPINBlock)
	if _, err := f.ReadAt(buf, s.Offset); err != nil {
		return nil, fmt.Errorf("read PIN store: %w", err)
	}
	n := int(buf[0])
	if n == 0 || n > MaxPINBlock {
		return nil, fmt.Errorf("%w: stored length %d", ErrBadPINFormat, n)
	}
	return append([]byte(nil), buf[1:1+n]...), nil
}
