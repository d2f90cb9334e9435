// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package pipeline contains an immutable model of the compiled forwarding
// program: its actions and tables, as needed to translate symbolic test
// statements into runtime CLI commands.
package pipeline

import (
	"github.com/onosproject/onos-lib-go/pkg/errors"
)

// ActionArg describes one declared runtime argument of an action
type ActionArg struct {
	Name  string
	Width int
}

// Action describes a forwarding program action and its declared arguments
type Action struct {
	Name string
	Args []ActionArg
}

// Table describes a match-action table: its match type, the ordered list of
// key field names and the set of actions it can invoke, by program-local ID
type Table struct {
	Name      string
	MatchType string
	KeyFields []string
	Actions   map[string]uint32
}

// Ternary returns true if the table key requires value&&&mask rendering
func (t *Table) Ternary() bool {
	return t.MatchType == "ternary"
}

// Pipeline is the loaded forwarding program descriptor; read-only after load
type Pipeline struct {
	actions map[uint32]*Action
	tables  []*Table
}

// Tables returns the tables of the pipeline in declaration order
func (p *Pipeline) Tables() []*Table {
	return p.tables
}

// FindTable locates a table by name
func (p *Pipeline) FindTable(name string) (*Table, error) {
	for _, t := range p.tables {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, errors.NewNotFound("table %s not found", name)
}

// FindAction locates an action of the given table by name, resolving the
// program-local action ID recorded in the table descriptor
func (p *Pipeline) FindAction(table *Table, name string) (*Action, error) {
	id, ok := table.Actions[name]
	if !ok {
		return nil, errors.NewNotFound("table %s has no action %s", table.Name, name)
	}
	action, ok := p.actions[id]
	if !ok {
		return nil, errors.NewNotFound("action %s (id %d) not found", name, id)
	}
	return action, nil
}
