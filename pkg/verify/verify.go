// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package verify compares packets captured on the output ports of the device
// under test against the expected byte patterns registered by the STF source.
package verify

import (
	"encoding/hex"
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/google/gopacket/pcapgo"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
)

var log = logging.GetLogger("verify")

// Expectations accumulates the expected output packet patterns, per port, in
// first-appearance port order
type Expectations struct {
	ports   []string
	packets map[string][]string
}

// NewExpectations creates an empty expectation list
func NewExpectations() *Expectations {
	return &Expectations{packets: make(map[string][]string)}
}

// Add registers the next expected packet pattern on the given port
func (e *Expectations) Add(port string, hexPattern string) {
	if _, ok := e.packets[port]; !ok {
		e.ports = append(e.ports, port)
	}
	e.packets[port] = append(e.packets[port], hexPattern)
}

// Empty returns true if no expectations have been registered
func (e *Expectations) Empty() bool {
	return len(e.ports) == 0
}

// Verifier checks capture files against registered expectations
type Verifier struct {
	logPath string
}

// NewVerifier creates a verifier; failures needing diagnosis are reported
// together with the contents of the engine log at the given path
func NewVerifier(logPath string) *Verifier {
	return &Verifier{logPath: logPath}
}

// Verify reads the output capture of every port with expectations, using the
// given port-to-capture-file mapping, and fails on the first discrepancy
func (v *Verifier) Verify(e *Expectations, captureFile func(port string) string) error {
	for _, port := range e.ports {
		expected := e.packets[port]
		captured, err := readCapture(captureFile(port))
		if err != nil {
			v.showLog()
			return err
		}
		if len(expected) != len(captured) {
			v.showLog()
			return errors.NewInvalid("expected %d packets on port %s, got %d",
				len(expected), port, len(captured))
		}
		for i := range expected {
			if err = comparePacket(expected[i], captured[i]); err != nil {
				return errors.NewInvalid("packet %d on port %s differs: %v", i, port, err)
			}
		}
	}
	return nil
}

// readCapture returns the raw bytes of every packet in the given capture
// file; an empty file is an empty capture, not an error
func readCapture(path string) ([][]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewInvalid("unable to stat capture file %s: %v", path, err)
	}
	if info.Size() == 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewInvalid("unable to open capture file %s: %v", path, err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, errors.NewInvalid("corrupt capture file %s: %v", path, err)
	}
	var packets [][]byte
	for {
		data, _, err := reader.ReadPacketData()
		if err == io.EOF {
			return packets, nil
		}
		if err != nil {
			return nil, errors.NewInvalid("corrupt capture file %s: %v", path, err)
		}
		packets = append(packets, data)
	}
}

// comparePacket compares the received packet against the expected uppercase
// hex pattern, position by position; * matches any character and trailing
// extra bytes in the received packet are ignored
func comparePacket(expected string, received []byte) error {
	got := strings.ToUpper(hex.EncodeToString(received))
	want := strings.ToUpper(expected)
	if len(got) < len(want) {
		return errors.NewInvalid("received packet too short: %d vs %d", len(got), len(want))
	}
	for i := 0; i < len(want); i++ {
		if want[i] == '*' {
			continue
		}
		if want[i] != got[i] {
			return errors.NewInvalid("position %d: expected %c, received %c", i, want[i], got[i])
		}
	}
	return nil
}

// Dump the engine log to help diagnose capture-level failures
func (v *Verifier) showLog() {
	data, err := ioutil.ReadFile(v.logPath)
	if err != nil {
		log.Warnf("Unable to read engine log %s: %v", v.logPath, err)
		return
	}
	log.Infof("Engine log %s:\n%s", v.logPath, string(data))
}
