// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package translate converts parsed STF statements into the line-oriented
// text commands understood by the BMv2 runtime CLI.
package translate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/stf-runner/pkg/pipeline"
	"github.com/onosproject/stf-runner/pkg/stf"
)

// The runtime CLI orders priorities in reverse of the STF convention; the
// inversion base is fixed by downstream tooling and golden outputs.
const priorityBase = 10000

var arrayIndex = regexp.MustCompile(`^(.*)\$([0-9]+)(.*)$`)

// Translator renders STF table statements as runtime CLI commands using the
// loaded pipeline descriptor; safe for reuse across statements
type Translator struct {
	pipeline *pipeline.Pipeline
}

// NewTranslator creates a translator for the given pipeline
func NewTranslator(p *pipeline.Pipeline) *Translator {
	return &Translator{pipeline: p}
}

// TableAdd renders an add statement as a table_add command
func (t *Translator) TableAdd(add *stf.Add) (string, error) {
	table, err := t.pipeline.FindTable(add.Table)
	if err != nil {
		return "", err
	}

	// An explicit priority forces value&&&mask key rendering
	ternary := table.Ternary() || add.Priority != ""
	key := newTableKey(table, ternary)
	for _, kv := range add.Keys {
		if err = key.set(kv.Key, kv.Value); err != nil {
			return "", err
		}
	}

	args, err := t.actionArgs(table, add.Action, add.Args)
	if err != nil {
		return "", err
	}

	priority := ""
	if add.Priority != "" {
		p, err := strconv.Atoi(add.Priority)
		if err != nil {
			return "", errors.NewInvalid("malformed priority %q", add.Priority)
		}
		priority = strconv.Itoa(priorityBase - p)
	}
	return fmt.Sprintf("table_add %s %s %s => %s %s", add.Table, add.Action, key, args, priority), nil
}

// SetDefault renders a setdefault statement as a table_set_default command
func (t *Translator) SetDefault(sd *stf.SetDefault) (string, error) {
	table, err := t.pipeline.FindTable(sd.Table)
	if err != nil {
		return "", err
	}
	args, err := t.actionArgs(table, sd.Action, sd.Args)
	if err != nil {
		return "", err
	}
	command := fmt.Sprintf("table_set_default %s %s", sd.Table, sd.Action)
	if len(args.action.Args) > 0 {
		command += " => " + args.String()
	}
	return command, nil
}

func (t *Translator) actionArgs(table *pipeline.Table, name string, kvs []stf.KV) (*actionArgs, error) {
	action, err := t.pipeline.FindAction(table, name)
	if err != nil {
		return nil, err
	}
	args := &actionArgs{action: action, values: make(map[string]string)}
	for _, kv := range kvs {
		if err = args.set(kv.Key, kv.Value); err != nil {
			return nil, err
		}
	}
	return args, nil
}

// tableKey holds the per-statement working values for each declared key
// field of a table; consumed once when rendered
type tableKey struct {
	table   *pipeline.Table
	ternary bool
	values  map[string]string
}

func newTableKey(table *pipeline.Table, ternary bool) *tableKey {
	k := &tableKey{table: table, ternary: ternary, values: make(map[string]string)}
	// Unassigned fields match anything
	for _, f := range table.KeyFields {
		k.values[f] = makeMask("0x*", ternary)
	}
	return k
}

func (k *tableKey) set(field string, value string) error {
	// name$3 is array-element addressing for name[3]
	if m := arrayIndex.FindStringSubmatch(field); m != nil {
		field = m[1] + "[" + m[2] + "]" + m[3]
	}
	found := false
	for _, f := range k.table.KeyFields {
		if f == field {
			found = true
			break
		}
	}
	if !found {
		return errors.NewNotFound("table %s has no key field %s", k.table.Name, field)
	}
	if value == "" {
		value = "0x*"
	}
	k.values[field] = makeMask(value, k.ternary)
	return nil
}

func (k *tableKey) String() string {
	parts := make([]string, 0, len(k.table.KeyFields))
	for _, f := range k.table.KeyFields {
		parts = append(parts, k.values[f])
	}
	return strings.Join(parts, " ")
}

// actionArgs holds the per-statement working values for the declared
// arguments of one action
type actionArgs struct {
	action *pipeline.Action
	values map[string]string
}

func (a *actionArgs) set(name string, value string) error {
	found := false
	for _, arg := range a.action.Args {
		if arg.Name == name {
			found = true
			break
		}
	}
	if !found {
		return errors.NewNotFound("action %s has no argument %s", a.action.Name, name)
	}
	a.values[name] = value
	return nil
}

func (a *actionArgs) String() string {
	parts := make([]string, 0, len(a.action.Args))
	for _, arg := range a.action.Args {
		parts = append(parts, a.values[arg.Name])
	}
	return strings.Join(parts, " ")
}

// makeMask renders a key value for the given match mode. Ternary values with
// a radix prefix become <prefix><value>&&&<prefix><mask>, where concrete
// digits get the maximal mask digit for the radix and * wildcard positions
// get 0 in both the value and the mask. Exact values pass through unchanged.
func makeMask(value string, ternary bool) string {
	if !ternary {
		return value
	}
	var mask byte
	var prefix string
	switch {
	case strings.HasPrefix(value, "0x"):
		mask, prefix = 'F', "0x"
	case strings.HasPrefix(value, "0b"):
		mask, prefix = '1', "0b"
	case strings.HasPrefix(value, "0o"):
		mask, prefix = '7', "0o"
	default:
		return value
	}
	digits := value[len(prefix):]
	v := make([]byte, len(digits))
	m := make([]byte, len(digits))
	for i := 0; i < len(digits); i++ {
		if digits[i] == '*' {
			v[i], m[i] = '0', '0'
		} else {
			v[i], m[i] = digits[i], mask
		}
	}
	return prefix + string(v) + "&&&" + prefix + string(m)
}
