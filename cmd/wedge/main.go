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

// Command wedge runs the terminal/ICC interposer or a standalone
// terminal-side transaction against a PC/SC reader.
//
// Interposer modes sit between a payment terminal and a card:
//
//	forward      relay everything unmodified
//	forward-log  relay and record the exchanges
//	filter-ac    hold GENERATE AC for user confirmation of the amount
//	pin-sub      replace plaintext VERIFY data with a stored PIN block
//	pin-capture  store the PIN block of the first plaintext VERIFY
//
// The terminal mode drives a card in a PC/SC reader through an EMV
// transaction without any terminal attached. The list mode prints the
// serial ports and PC/SC readers available on the host.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	emvwedge "github.com/emvwedge/go-emvwedge"
	"github.com/emvwedge/go-emvwedge/apdu"
	"github.com/emvwedge/go-emvwedge/emv"
	"github.com/emvwedge/go-emvwedge/tracelog"
	"github.com/emvwedge/go-emvwedge/transport/gpio"
	"github.com/emvwedge/go-emvwedge/transport/pcsc"
	"github.com/emvwedge/go-emvwedge/transport/uart"
)

type config struct {
	mode         string
	terminalPort string
	iccPort      string
	gpioIO       string
	gpioReset    string
	gpioPower    string
	reader       string
	aid          string
	pinFile      string
	traceOut     string
	debug        bool
}

var cfg config

func init() {
	flag.StringVar(&cfg.mode, "mode", "forward",
		"forward, forward-log, filter-ac, pin-sub, pin-capture, terminal or list")
	flag.StringVar(&cfg.terminalPort, "terminal-port", "", "serial port facing the terminal")
	flag.StringVar(&cfg.iccPort, "icc-port", "", "serial port facing the card")
	flag.StringVar(&cfg.gpioIO, "gpio-io", "", "card I/O GPIO line (uses GPIO instead of -icc-port)")
	flag.StringVar(&cfg.gpioReset, "gpio-reset", "", "card reset GPIO line")
	flag.StringVar(&cfg.gpioPower, "gpio-power", "", "card power GPIO line")
	flag.StringVar(&cfg.reader, "pcsc-reader", "", "PC/SC reader name for terminal mode (first if empty)")
	flag.StringVar(&cfg.aid, "aid", "", "application identifier as hex, tried before the built-in list")
	flag.StringVar(&cfg.pinFile, "pin-file", "wedge-pin.dat", "PIN block store for pin-sub and pin-capture")
	flag.StringVar(&cfg.traceOut, "trace-out", "", "write the protocol trace to this file on exit")
	flag.BoolVar(&cfg.debug, "debug", false, "enable debug output")
}

func main() {
	flag.Parse()
	if cfg.debug {
		emvwedge.SetDebugEnabled(true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "wedge: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	switch cfg.mode {
	case "terminal":
		return runTerminal(ctx)
	case "list":
		return runList()
	default:
		return runInterposer(ctx)
	}
}

// runList prints the serial ports and PC/SC readers a wedge could use.
func runList() error {
	ports, err := uart.DetectPorts(uart.DetectOptions{})
	if err != nil && !errors.Is(err, uart.ErrNoPortsFound) {
		return err
	}
	for _, p := range ports {
		mark := " "
		if p.Likely {
			mark = "*"
		}
		if p.VIDPID != "" {
			fmt.Printf("%s %s (%s)\n", mark, p.Path, p.VIDPID)
		} else {
			fmt.Printf("%s %s\n", mark, p.Path)
		}
	}

	readers, err := pcsc.ListReaders()
	if err != nil {
		emvwedge.Debugf("pcsc readers unavailable: %v", err)
		return nil
	}
	for _, r := range readers {
		fmt.Printf("  pcsc: %s\n", r)
	}
	return nil
}

func runInterposer(ctx context.Context) error {
	if cfg.terminalPort == "" {
		return errors.New("interposer modes need -terminal-port")
	}

	term, err := uart.Open(uart.Config{Port: cfg.terminalPort})
	if err != nil {
		return err
	}
	defer func() { _ = term.Close() }()

	icc, err := openICC()
	if err != nil {
		return err
	}
	defer func() { _ = icc.Close() }()

	sess := emvwedge.NewSession(emvwedge.DefaultSessionConfig())
	bridge := emvwedge.NewBridge(term, icc, sess.Trace)
	defer exportTrace(sess.Trace)

	switch cfg.mode {
	case "forward":
		return emvwedge.RunForward(ctx, sess, bridge)
	case "forward-log":
		err := emvwedge.RunForwardLogged(ctx, sess, bridge)
		dumpExchanges(sess.Exchanges())
		return err
	case "filter-ac":
		return emvwedge.RunFilterGenerateAC(ctx, sess, bridge, newStdinConfirmer(os.Stdin))
	case "pin-sub":
		pin, perr := loadPINBlock()
		if perr != nil {
			return perr
		}
		return emvwedge.RunPINSubstitution(ctx, sess, bridge, pin)
	case "pin-capture":
		return emvwedge.RunPINCapture(ctx, sess, bridge, emvwedge.NewFilePINStore(cfg.pinFile))
	default:
		return fmt.Errorf("unknown mode %q", cfg.mode)
	}
}

func openICC() (emvwedge.ByteChannel, error) {
	if cfg.gpioIO != "" {
		return gpio.Open(gpio.Config{
			IO:    cfg.gpioIO,
			Reset: cfg.gpioReset,
			Power: cfg.gpioPower,
		})
	}
	if cfg.iccPort == "" {
		return nil, errors.New("interposer modes need -icc-port or -gpio-io")
	}
	return uart.Open(uart.Config{Port: cfg.iccPort})
}

// loadPINBlock returns the captured PIN block, or the built-in dummy
// block when none has been captured yet.
func loadPINBlock() ([]byte, error) {
	store := emvwedge.NewFilePINStore(cfg.pinFile)
	pin, err := store.Load()
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			emvwedge.Debugln("no captured PIN block, using the dummy block")
			return emvwedge.DefaultPINBlock, nil
		}
		return nil, err
	}
	return pin, nil
}

// stdinConfirmer asks on the controlling terminal whether a held
// GENERATE AC may proceed: y forwards the command, anything else
// denies it. The answer line is read on a background goroutine so
// Decide never blocks and the hold loop can keep feeding the terminal
// more-time bytes while the user thinks.
type stdinConfirmer struct {
	in      io.Reader
	once    sync.Once
	verdict chan emvwedge.Decision
}

func newStdinConfirmer(in io.Reader) *stdinConfirmer {
	return &stdinConfirmer{in: in, verdict: make(chan emvwedge.Decision, 1)}
}

func (c *stdinConfirmer) Decide(amount string) emvwedge.Decision {
	c.once.Do(func() {
		fmt.Printf("transaction amount %s.%s - allow? [y/N] ",
			strings.TrimLeft(amount[:10], "0"), amount[10:])
		go func() {
			line, err := bufio.NewReader(c.in).ReadString('\n')
			if err == nil && strings.EqualFold(strings.TrimSpace(line), "y") {
				c.verdict <- emvwedge.DecisionAccept
				return
			}
			c.verdict <- emvwedge.DecisionDeny
		}()
	})

	select {
	case d := <-c.verdict:
		c.verdict <- d // keep the verdict for later polls
		return d
	default:
		return emvwedge.DecisionPending
	}
}

// runTerminal drives a full EMV read against a card in a PC/SC reader.
func runTerminal(ctx context.Context) error {
	reader, err := pcsc.Connect(cfg.reader)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()
	fmt.Printf("reader: %s\n", reader.Name())

	if atr, err := reader.ATR(); err == nil {
		fmt.Printf("ATR: %X\n", atr)
	}

	var aid []byte
	if cfg.aid != "" {
		if aid, err = hex.DecodeString(cfg.aid); err != nil {
			return fmt.Errorf("bad -aid value: %w", err)
		}
	}

	term := emv.NewTerminal(reader)
	fci, err := term.SelectApplication(ctx, aid)
	if err != nil {
		return err
	}
	fmt.Printf("application: %X\n", fci.DFName)

	info, err := term.InitializeTransaction(ctx, fci)
	if err != nil {
		return err
	}
	fmt.Printf("AIP: %X, %d file(s) to read\n", info.AIP, len(info.AFL))

	var offline bytes.Buffer
	records, err := term.GetTransactionData(ctx, info, &offline)
	if err != nil {
		return err
	}
	for _, tlv := range records {
		wire, err := tlv.Serialize()
		if err != nil {
			continue
		}
		fmt.Println(emv.Describe(wire))
	}

	if atc, err := term.GetDataObject(ctx, emv.PDOATC); err == nil {
		fmt.Printf("ATC: %X\n", atc)
	}
	return nil
}

func dumpExchanges(exchanges []*apdu.Exchange) {
	for i, ex := range exchanges {
		fmt.Printf("[%02d] > %X %X\n", i, ex.Command.Header.Serialize(), ex.Command.Data)
		fmt.Printf("[%02d] < %X %s\n", i, ex.Response.Data, ex.Response.Status)
		if len(ex.Response.Data) > 0 {
			fmt.Println(emv.Describe(ex.Response.Data))
		}
	}
}

func exportTrace(log *tracelog.Log) {
	if cfg.traceOut == "" {
		return
	}
	if err := os.WriteFile(cfg.traceOut, log.Bytes(), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "wedge: write trace: %v\n", err)
	}
}
