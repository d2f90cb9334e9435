// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package runner orchestrates one test run: it launches the BMv2 engine and
// its runtime CLI, wires fifo-backed input ports, streams translated
// commands, injects packets and tears everything down again.
package runner

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/onosproject/stf-runner/pkg/pipeline"
	"github.com/onosproject/stf-runner/pkg/ports"
	"github.com/onosproject/stf-runner/pkg/stf"
	"github.com/onosproject/stf-runner/pkg/translate"
	"github.com/onosproject/stf-runner/pkg/verify"
	"golang.org/x/sys/unix"
)

var log = logging.GetLogger("runner")

// The run advances through these phases strictly in order. Port fifos must
// be created before the engine starts, but must not be opened until it is
// running, since a fifo open blocks until the peer attaches.
type phase int

const (
	idle phase = iota
	interfacesDeclared
	engineStarted
	interfacesOpened
	commandsStreamed
	terminated
)

// Runner is the explicit context of one test run; all mutable run state
// lives here rather than in package globals
type Runner struct {
	config     Config
	folder     string
	program    string
	translator *translate.Translator
	statements []stf.Statement

	phase        phase
	ports        []string
	events       []event
	writers      map[string]*portWriter
	expectations *verify.Expectations
	allocator    *ports.Allocator
	lease        int
	leased       bool
	engine       *exec.Cmd
}

// event is one pre-translated step of the run: either a runtime CLI command
// or a packet injection. Translating everything up front means descriptor
// mismatches surface before any process is started.
type event struct {
	command string // CLI command, when non-empty
	port    string // injection port otherwise
	data    []byte
}

// portWriter is the open write side of one port's input fifo
type portWriter struct {
	file   *os.File
	writer *pcapgo.Writer
}

// New creates a runner executing the given statements against the compiled
// program, using the given scratch folder for fifos, captures and logs
func New(config Config, folder string, program string, p *pipeline.Pipeline, statements []stf.Statement) *Runner {
	return &Runner{
		config:       config,
		folder:       folder,
		program:      program,
		translator:   translate.NewTranslator(p),
		statements:   statements,
		writers:      make(map[string]*portWriter),
		expectations: verify.NewExpectations(),
		allocator:    ports.NewAllocator(config.LeaseDir, config.PortRange),
	}
}

// Expectations returns the output expectations registered by the test source
func (r *Runner) Expectations() *verify.Expectations {
	return r.expectations
}

// OutputFile returns the capture file the engine writes for the given port
func (r *Runner) OutputFile(port string) string {
	return r.captureFile(port, "out")
}

// EngineLog returns the path of the engine log (the engine appends .txt)
func (r *Runner) EngineLog() string {
	return filepath.Join(r.folder, r.config.LogFile+".txt")
}

func (r *Runner) inputFile(port string) string {
	return r.captureFile(port, "in")
}

func (r *Runner) captureFile(port string, direction string) string {
	return filepath.Join(r.folder, fmt.Sprintf("%s%s_%s.pcap", r.config.PcapPrefix, port, direction))
}

// Run drives the full state machine; the port lease and any spawned process
// are reclaimed on every exit path
func (r *Runner) Run() error {
	if err := r.prepare(); err != nil {
		return err
	}
	if err := r.declareInterfaces(); err != nil {
		return err
	}
	defer r.cleanup()
	if err := r.startEngine(); err != nil {
		return err
	}
	if err := r.openInterfaces(); err != nil {
		return err
	}
	if err := r.streamCommands(); err != nil {
		return err
	}
	return r.drain()
}

func (r *Runner) advance(from phase, to phase) error {
	if r.phase != from {
		return errors.NewInvalid("run is in phase %d, not %d", r.phase, from)
	}
	r.phase = to
	return nil
}

// declareInterfaces creates the input fifo of every port referenced by the
// test source, in first-appearance order, without opening any of them. The
// engine and this process must create and open the fifos in the same order
// or both sides block forever.
func (r *Runner) declareInterfaces() error {
	if err := r.advance(idle, interfacesDeclared); err != nil {
		return err
	}
	r.ports = stf.Ports(r.statements)
	for _, port := range r.ports {
		name := r.inputFile(port)
		if err := unix.Mkfifo(name, 0644); err != nil {
			return errors.NewInternal("unable to create fifo %s: %v", name, err)
		}
		log.Debugf("Declared port %s input fifo %s", port, name)
	}
	return nil
}

// startEngine acquires a control-port lease and launches the engine with
// file-backed interfaces in declaration order
func (r *Runner) startEngine() error {
	if err := r.advance(interfacesDeclared, engineStarted); err != nil {
		return err
	}
	lease, err := r.allocator.Acquire()
	if err != nil {
		return err
	}
	r.lease = lease
	r.leased = true

	args := []string{
		"--log-file", r.config.LogFile,
		"--use-files", "0",
		"--thrift-port", strconv.Itoa(r.controlPort()),
		"--device-id", strconv.Itoa(r.lease),
	}
	args = append(args, r.interfaceArgs()...)
	args = append(args, r.program)

	r.engine = exec.Command(r.config.SwitchBinary, args...)
	r.engine.Dir = r.folder
	log.Infof("Starting %s %v", r.config.SwitchBinary, args)
	if err = r.engine.Start(); err != nil {
		return errors.NewInternal("unable to start %s: %v", r.config.SwitchBinary, err)
	}
	return nil
}

// openInterfaces opens the write side of every input fifo, in the same
// declaration order the engine uses, and emits the capture file header
// before any payload
func (r *Runner) openInterfaces() error {
	if err := r.advance(engineStarted, interfacesOpened); err != nil {
		return err
	}
	for _, port := range r.ports {
		name := r.inputFile(port)
		f, err := os.OpenFile(name, os.O_WRONLY, 0)
		if err != nil {
			return errors.NewInternal("unable to open fifo %s: %v", name, err)
		}
		w := pcapgo.NewWriter(f)
		if err = w.WriteFileHeader(65536, layers.LinkTypeNull); err != nil {
			_ = f.Close()
			return errors.NewInternal("unable to write capture header to %s: %v", name, err)
		}
		r.writers[port] = &portWriter{file: f, writer: w}
	}
	return nil
}

// streamCommands launches the runtime CLI and replays the prepared events in
// source order, sending commands to the CLI and injecting packets into the
// port fifos
func (r *Runner) streamCommands() error {
	if err := r.advance(interfacesOpened, commandsStreamed); err != nil {
		return err
	}
	cli := exec.Command(r.config.CLIBinary, "--thrift-port", strconv.Itoa(r.controlPort()))
	cli.Dir = r.folder
	stdin, err := cli.StdinPipe()
	if err != nil {
		return errors.NewInternal("unable to pipe to %s: %v", r.config.CLIBinary, err)
	}
	log.Infof("Starting %s --thrift-port %d", r.config.CLIBinary, r.controlPort())
	if err = cli.Start(); err != nil {
		return errors.NewInternal("unable to start %s: %v", r.config.CLIBinary, err)
	}

	streamErr := r.streamEvents(stdin)

	// End of commands; close the fifo writers before waiting so the engine
	// can finish reading its inputs
	_ = stdin.Close()
	r.closeWriters()

	waitErr := waitWithTimeout(cli, r.config.ProcessTimeout)
	if streamErr != nil {
		return streamErr
	}
	if waitErr != nil {
		return errors.NewInternal("CLI process failed: %v", waitErr)
	}
	return nil
}

// prepare translates every statement into its command or injection event and
// registers the output expectations; any unknown table, field, action or
// argument fails the run here, before anything has been launched
func (r *Runner) prepare() error {
	for _, statement := range r.statements {
		switch s := statement.(type) {
		case *stf.Add:
			command, err := r.translator.TableAdd(s)
			if err != nil {
				return err
			}
			r.events = append(r.events, event{command: command})
		case *stf.SetDefault:
			command, err := r.translator.SetDefault(s)
			if err != nil {
				return err
			}
			r.events = append(r.events, event{command: command})
		case *stf.Packet:
			data, err := hex.DecodeString(s.Hex)
			if err != nil {
				return errors.NewInvalid("malformed packet hex on port %s: %v", s.Port, err)
			}
			r.events = append(r.events, event{port: s.Port, data: data})
		case *stf.Expect:
			r.expectations.Add(s.Port, s.Hex)
		}
	}
	return nil
}

func (r *Runner) streamEvents(stdin io.Writer) error {
	settle := time.Duration(0)
	for _, e := range r.events {
		if e.command != "" {
			if err := sendCommand(stdin, e.command); err != nil {
				return err
			}
			settle = r.config.SettleDelay
			continue
		}
		// Give the engine time to apply preceding control changes
		time.Sleep(settle)
		settle = 0
		if err := r.injectPacket(e.port, e.data); err != nil {
			return err
		}
	}
	return nil
}

func sendCommand(stdin io.Writer, command string) error {
	log.Debugf("CLI command: %s", command)
	if _, err := io.WriteString(stdin, command+"\n"); err != nil {
		return errors.NewInternal("unable to send CLI command: %v", err)
	}
	return nil
}

func (r *Runner) injectPacket(port string, data []byte) error {
	w, ok := r.writers[port]
	if !ok {
		return errors.NewNotFound("port %s has no open input fifo", port)
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.writer.WritePacket(ci, data); err != nil {
		return errors.NewInternal("unable to inject packet into port %s: %v", port, err)
	}
	return nil
}

// drain gives the engine time to finish processing in-flight packets and
// then asks it to terminate; an unexpected exit is reported but does not
// prevent verification of whatever output was captured
func (r *Runner) drain() error {
	if err := r.advance(commandsStreamed, terminated); err != nil {
		return err
	}
	time.Sleep(r.config.DrainDelay)

	if err := r.engine.Process.Signal(syscall.SIGTERM); err != nil {
		log.Warnf("Unable to signal engine: %v", err)
	}
	err := r.engine.Wait()
	if !exitedWith(r.engine, syscall.SIGTERM) {
		log.Warnf("Engine died unexpectedly: %v", err)
	}
	r.engine = nil
	return nil
}

// Reports whether the process was terminated by the given signal
func exitedWith(cmd *exec.Cmd, signal syscall.Signal) bool {
	if cmd.ProcessState == nil {
		return false
	}
	status, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	return ok && status.Signaled() && status.Signal() == signal
}

func (r *Runner) closeWriters() {
	for port, w := range r.writers {
		if err := w.file.Close(); err != nil {
			log.Warnf("Unable to close input fifo of port %s: %v", port, err)
		}
		delete(r.writers, port)
	}
}

// cleanup reclaims everything the run holds; invoked on all exit paths once
// the engine has been started
func (r *Runner) cleanup() {
	r.closeWriters()
	if r.engine != nil && r.engine.Process != nil {
		_ = r.engine.Process.Kill()
		_, _ = r.engine.Process.Wait()
		r.engine = nil
	}
	if r.leased {
		r.allocator.Release(r.lease)
		r.leased = false
	}
}

func (r *Runner) controlPort() int {
	return r.config.BasePort + r.lease
}

// interfaceArgs returns one -i argument pair per declared port, in
// declaration order
func (r *Runner) interfaceArgs() []string {
	args := make([]string, 0, 2*len(r.ports))
	for _, port := range r.ports {
		args = append(args, "-i", fmt.Sprintf("%s@%s%s", port, r.config.PcapPrefix, port))
	}
	return args
}

// waitWithTimeout waits for the process, force-terminating it if it does not
// exit in time; the watcher is joined before control returns
func waitWithTimeout(cmd *exec.Cmd, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		return errors.NewTimeout("%s timed out after %s", cmd.Path, timeout)
	}
}
