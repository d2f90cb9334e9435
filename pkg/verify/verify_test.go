// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package verify

import (
	"encoding/hex"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComparePacket(t *testing.T) {
	assert.NoError(t, comparePacket("AB*D", mustBytes(t, "ABCD")))
	assert.NoError(t, comparePacket("AB*D", mustBytes(t, "ABFD")))
	assert.Error(t, comparePacket("AB*D", mustBytes(t, "ABCE")))

	// Lower-case captures compare equal
	assert.NoError(t, comparePacket("ab*d", mustBytes(t, "ABCD")))

	// Trailing extra bytes are ignored; a short capture never matches
	assert.NoError(t, comparePacket("AB", mustBytes(t, "ABCD")))
	assert.Error(t, comparePacket("ABCDEF", mustBytes(t, "ABCD")))
	assert.Error(t, comparePacket("****", mustBytes(t, "AB")))
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, filepath.Join(dir, "p1.pcap"), "0000000000000000000000000800450000")

	e := NewExpectations()
	e.Add("p1", "************************0800*")

	v := NewVerifier(filepath.Join(dir, "switch.log.txt"))
	assert.NoError(t, v.Verify(e, func(port string) string {
		return filepath.Join(dir, port+".pcap")
	}))
}

func TestVerifyMismatch(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, filepath.Join(dir, "p1.pcap"), "ABCE")

	e := NewExpectations()
	e.Add("p1", "AB*D")

	v := NewVerifier(filepath.Join(dir, "switch.log.txt"))
	err := v.Verify(e, func(port string) string { return filepath.Join(dir, port+".pcap") })
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "p1")
	assert.Contains(t, err.Error(), "packet 0")
	assert.Contains(t, err.Error(), "position 3")
}

func TestVerifyCountMismatch(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, filepath.Join(dir, "p0.pcap"), "ABCD")

	e := NewExpectations()
	e.Add("p0", "ABCD")
	e.Add("p0", "ABCD")

	v := NewVerifier(filepath.Join(dir, "switch.log.txt"))
	err := v.Verify(e, func(port string) string { return filepath.Join(dir, port+".pcap") })
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "expected 2 packets on port p0, got 1")
}

func TestVerifyEmptyCapture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p0.pcap")
	require.NoError(t, ioutil.WriteFile(path, nil, 0644))

	// An empty capture file is an empty packet sequence, not a failure
	e := NewExpectations()
	v := NewVerifier(filepath.Join(dir, "switch.log.txt"))
	assert.NoError(t, v.Verify(e, func(string) string { return path }))

	e.Add("p0", "ABCD")
	err := v.Verify(e, func(string) string { return path })
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "expected 1 packets on port p0, got 0")
}

func TestVerifyCorruptCapture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p0.pcap")
	require.NoError(t, ioutil.WriteFile(path, []byte("this is not a capture"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "switch.log.txt"), []byte("engine log"), 0644))

	e := NewExpectations()
	e.Add("p0", "ABCD")

	v := NewVerifier(filepath.Join(dir, "switch.log.txt"))
	err := v.Verify(e, func(string) string { return path })
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "corrupt capture file")
}

func TestVerifyMissingCapture(t *testing.T) {
	dir := t.TempDir()
	e := NewExpectations()
	e.Add("p0", "ABCD")

	v := NewVerifier(filepath.Join(dir, "switch.log.txt"))
	err := v.Verify(e, func(string) string { return filepath.Join(dir, "nope.pcap") })
	assert.True(t, errors.IsInvalid(err))
}

func TestExpectationsOrder(t *testing.T) {
	e := NewExpectations()
	assert.True(t, e.Empty())
	e.Add("b", "00")
	e.Add("a", "11")
	e.Add("b", "22")
	assert.False(t, e.Empty())
	assert.Equal(t, []string{"b", "a"}, e.ports)
	assert.Equal(t, []string{"00", "22"}, e.packets["b"])
}

func mustBytes(t *testing.T, hexStr string) []byte {
	data, err := hex.DecodeString(hexStr)
	require.NoError(t, err)
	return data
}

// Writes a single-packet capture file with the given hex payload
func writeCapture(t *testing.T, path string, hexStr string) {
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := mustBytes(t, hexStr)
	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeNull))
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(data), Length: len(data)}
	require.NoError(t, w.WritePacket(ci, data))
}
