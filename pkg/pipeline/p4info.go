// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"io/ioutil"
	"strings"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/prototext"
)

// LoadP4Info loads the specified file containing prototext representation of
// a P4Info and returns the equivalent pipeline descriptor
func LoadP4Info(path string) (*Pipeline, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	info := &p4info.P4Info{}
	if err = prototext.Unmarshal(data, info); err != nil {
		return nil, errors.NewInvalid("unable to parse P4Info %s: %v", path, err)
	}
	return fromP4Info(info), nil
}

func fromP4Info(info *p4info.P4Info) *Pipeline {
	p := &Pipeline{actions: make(map[uint32]*Action)}
	for _, a := range info.Actions {
		action := &Action{Name: a.Preamble.Name, Args: make([]ActionArg, 0, len(a.Params))}
		for _, param := range a.Params {
			action.Args = append(action.Args, ActionArg{Name: param.Name, Width: int(param.Bitwidth)})
		}
		p.actions[a.Preamble.Id] = action
	}

	for _, t := range info.Tables {
		table := &Table{
			Name:      t.Preamble.Name,
			MatchType: tableMatchType(t.MatchFields),
			KeyFields: make([]string, 0, len(t.MatchFields)),
			Actions:   make(map[string]uint32),
		}
		for _, mf := range t.MatchFields {
			table.KeyFields = append(table.KeyFields, mf.Name)
		}
		for _, ref := range t.ActionRefs {
			if action, ok := p.actions[ref.Id]; ok {
				table.Actions[action.Name] = ref.Id
			}
		}
		p.tables = append(p.tables, table)
	}
	return p
}

// Derives the table-wide match type from the individual match fields; any
// ternary field forces value&&&mask key rendering for the whole table
func tableMatchType(fields []*p4info.MatchField) string {
	kind := "exact"
	for _, mf := range fields {
		mt := mf.GetMatchType()
		if mt == p4info.MatchField_TERNARY {
			return "ternary"
		}
		if mt != p4info.MatchField_EXACT {
			kind = strings.ToLower(mt.String())
		}
	}
	return kind
}
