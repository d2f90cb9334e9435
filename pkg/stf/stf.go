// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package stf provides parsing of the simple test format: newline-delimited
// statements that populate tables of the device under test, inject packets
// into its ports and register the packets expected back out.
package stf

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
)

var log = logging.GetLogger("stf")

// KV is one symbolic key or argument assignment, e.g. "hdr.f:0x05"
type KV struct {
	Key   string
	Value string
}

// Statement is one parsed STF statement
type Statement interface {
	statement()
}

// Add populates a table with one entry
type Add struct {
	Table    string
	Priority string // empty when not given
	Keys     []KV
	Action   string
	Args     []KV
}

// SetDefault sets the default action of a table
type SetDefault struct {
	Table  string
	Action string
	Args   []KV
}

// Packet injects the given hex bytes into the named port
type Packet struct {
	Port string
	Hex  string
}

// Expect registers an expected output packet on the named port; the hex
// string may contain * wildcard positions
type Expect struct {
	Port string
	Hex  string
}

func (*Add) statement()        {}
func (*SetDefault) statement() {}
func (*Packet) statement()     {}
func (*Expect) statement()     {}

// ParseFile parses the STF source at the given path
func ParseFile(path string) ([]Statement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse parses STF source from the given reader; # starts a comment, blank
// lines and unrecognized statements are skipped
func Parse(r io.Reader) ([]Statement, error) {
	var statements []Statement
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line, _ := nextWord(scanner.Text(), "#")
		first, rest := nextWord(line, "")
		switch first {
		case "":
		case "add":
			add, err := parseAdd(rest)
			if err != nil {
				return nil, errors.NewInvalid("line %d: %v", lineNo, err)
			}
			statements = append(statements, add)
		case "setdefault":
			sd, err := parseSetDefault(rest)
			if err != nil {
				return nil, errors.NewInvalid("line %d: %v", lineNo, err)
			}
			statements = append(statements, sd)
		case "packet":
			port, data := nextWord(rest, "")
			statements = append(statements, &Packet{Port: port, Hex: stripSpace(data)})
		case "expect":
			port, data := nextWord(rest, "")
			statements = append(statements, &Expect{Port: port, Hex: stripSpace(data)})
		default:
			log.Debugf("Ignoring stf statement: %s %s", first, rest)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return statements, nil
}

// Ports returns the unique port names referenced by packet and expect
// statements, in first-appearance order
func Ports(statements []Statement) []string {
	var ports []string
	seen := make(map[string]bool)
	add := func(port string) {
		if !seen[port] {
			seen[port] = true
			ports = append(ports, port)
		}
	}
	for _, statement := range statements {
		switch s := statement.(type) {
		case *Packet:
			add(s.Port)
		case *Expect:
			add(s.Port)
		}
	}
	return ports
}

func parseAdd(text string) (*Add, error) {
	add := &Add{}
	add.Table, text = nextWord(text, "")
	if add.Table == "" {
		return nil, errors.NewInvalid("add statement without a table name")
	}

	// The first token is a priority only when it is a pure number
	first, rest := nextWord(text, "")
	if isNumber(first) {
		add.Priority = first
		text = rest
	}

	for text != "" {
		var word string
		word, text = nextWord(text, "")
		if i := strings.Index(word, "("); i >= 0 {
			// Found the action; everything from here is its argument list
			add.Action = word[:i]
			args, err := parseArgs(strings.TrimSpace(word[i+1:] + " " + text))
			if err != nil {
				return nil, err
			}
			add.Args = args
			return add, nil
		}
		// Key assignments may be separated by whitespace, commas or both
		for _, part := range strings.Split(strings.TrimSuffix(word, ","), ",") {
			k, v := nextWord(part, ":")
			add.Keys = append(add.Keys, KV{Key: k, Value: v})
		}
	}
	return nil, errors.NewInvalid("add statement for table %s has no action", add.Table)
}

func parseSetDefault(text string) (*SetDefault, error) {
	sd := &SetDefault{}
	sd.Table, text = nextWord(text, "")
	if sd.Table == "" {
		return nil, errors.NewInvalid("setdefault statement without a table name")
	}
	sd.Action, text = nextWord(text, "(")
	if sd.Action == "" {
		return nil, errors.NewInvalid("setdefault statement for table %s has no action", sd.Table)
	}
	args, err := parseArgs(text)
	if err != nil {
		return nil, err
	}
	sd.Args = args
	return sd, nil
}

// Parses a comma-separated action argument list, tolerating the closing
// parenthesis still being attached
func parseArgs(text string) ([]KV, error) {
	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), "()"))
	var args []KV
	for text != "" {
		var word string
		word, text = nextWord(text, ",")
		k, v := nextWord(word, ":")
		if k == "" || v == "" {
			return nil, errors.NewInvalid("malformed action argument %q", word)
		}
		args = append(args, KV{Key: k, Value: v})
	}
	return args, nil
}

// Splits the text at the first occurrence of the separator, trimming both
// parts; an empty separator splits at the first run of whitespace
func nextWord(text string, sep string) (string, string) {
	text = strings.TrimSpace(text)
	i := -1
	w := 1
	if sep == "" {
		i = strings.IndexFunc(text, func(r rune) bool { return r == ' ' || r == '\t' })
	} else {
		i = strings.Index(text, sep)
		w = len(sep)
	}
	if i < 0 {
		return text, ""
	}
	return strings.TrimSpace(text[:i]), strings.TrimSpace(text[i+w:])
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
