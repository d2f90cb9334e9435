// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"encoding/json"
	"io/ioutil"
	"strings"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
)

var log = logging.GetLogger("pipeline")

// bmv2Program mirrors the parts of the BMv2 JSON program we care about
type bmv2Program struct {
	Actions   []bmv2Action   `json:"actions"`
	Pipelines []bmv2Pipeline `json:"pipelines"`
}

type bmv2Action struct {
	Name        string     `json:"name"`
	ID          uint32     `json:"id"`
	RuntimeData []bmv2Data `json:"runtime_data"`
}

type bmv2Data struct {
	Name     string `json:"name"`
	Bitwidth int    `json:"bitwidth"`
}

type bmv2Pipeline struct {
	Tables []bmv2Table `json:"tables"`
}

type bmv2Table struct {
	Name      string    `json:"name"`
	MatchType string    `json:"match_type"`
	Key       []bmv2Key `json:"key"`
	Actions   []string  `json:"actions"`
	ActionIDs []uint32  `json:"action_ids"`
}

type bmv2Key struct {
	Target []string `json:"target"`
}

// LoadBMv2 loads the specified BMv2 JSON program file and returns its
// pipeline descriptor
func LoadBMv2(path string) (*Pipeline, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadBMv2Bytes(data)
}

// LoadBMv2Bytes builds the pipeline descriptor from BMv2 JSON program bytes
func LoadBMv2Bytes(data []byte) (*Pipeline, error) {
	program := &bmv2Program{}
	if err := json.Unmarshal(data, program); err != nil {
		return nil, errors.NewInvalid("unable to parse BMv2 program: %v", err)
	}

	p := &Pipeline{actions: make(map[uint32]*Action)}
	for _, a := range program.Actions {
		action := &Action{Name: a.Name, Args: make([]ActionArg, 0, len(a.RuntimeData))}
		for _, rd := range a.RuntimeData {
			action.Args = append(action.Args, ActionArg{Name: rd.Name, Width: rd.Bitwidth})
		}
		p.actions[a.ID] = action
	}

	for _, pl := range program.Pipelines {
		for _, td := range pl.Tables {
			table := &Table{
				Name:      td.Name,
				MatchType: td.MatchType,
				KeyFields: make([]string, 0, len(td.Key)),
				Actions:   make(map[string]uint32),
			}
			for _, k := range td.Key {
				// Nested target components are flattened to a dotted path
				table.KeyFields = append(table.KeyFields, strings.Join(k.Target, "."))
			}
			if len(td.Actions) != len(td.ActionIDs) {
				return nil, errors.NewInvalid("table %s: %d actions vs %d action_ids",
					td.Name, len(td.Actions), len(td.ActionIDs))
			}
			for i, name := range td.Actions {
				table.Actions[name] = td.ActionIDs[i]
			}
			p.tables = append(p.tables, table)
		}
	}
	log.Debugf("Loaded BMv2 program: %d actions; %d tables", len(p.actions), len(p.tables))
	return p, nil
}
