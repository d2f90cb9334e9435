// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"testing"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestLoadBMv2(t *testing.T) {
	p, err := LoadBMv2("testdata/simple.json")
	assert.NoError(t, err)
	assert.Len(t, p.Tables(), 2)

	t0, err := p.FindTable("t0")
	assert.NoError(t, err)
	assert.Equal(t, "exact", t0.MatchType)
	assert.False(t, t0.Ternary())
	assert.Equal(t, []string{"hdr.f"}, t0.KeyFields)

	t1, err := p.FindTable("t1")
	assert.NoError(t, err)
	assert.True(t, t1.Ternary())
	assert.Equal(t, []string{"hdr.g"}, t1.KeyFields)

	a0, err := p.FindAction(t0, "a0")
	assert.NoError(t, err)
	assert.Len(t, a0.Args, 1)
	assert.Equal(t, "x", a0.Args[0].Name)
	assert.Equal(t, 8, a0.Args[0].Width)

	drop, err := p.FindAction(t1, "drop")
	assert.NoError(t, err)
	assert.Len(t, drop.Args, 0)
}

func TestFindNotFound(t *testing.T) {
	p, err := LoadBMv2("testdata/simple.json")
	assert.NoError(t, err)

	_, err = p.FindTable("nope")
	assert.True(t, errors.IsNotFound(err))

	t0, err := p.FindTable("t0")
	assert.NoError(t, err)

	// a0 belongs to t0 but not to t1
	t1, err := p.FindTable("t1")
	assert.NoError(t, err)
	_, err = p.FindAction(t1, "a0")
	assert.True(t, errors.IsNotFound(err))

	_, err = p.FindAction(t0, "nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestLoadBMv2Corrupt(t *testing.T) {
	_, err := LoadBMv2Bytes([]byte("not json"))
	assert.True(t, errors.IsInvalid(err))

	_, err = LoadBMv2("testdata/missing.json")
	assert.Error(t, err)
}

func TestLoadP4Info(t *testing.T) {
	p, err := LoadP4Info("testdata/simple.p4info.txt")
	assert.NoError(t, err)
	assert.Len(t, p.Tables(), 2)

	t0, err := p.FindTable("ingress.t0")
	assert.NoError(t, err)
	assert.Equal(t, "exact", t0.MatchType)
	assert.Equal(t, []string{"hdr.f"}, t0.KeyFields)

	a0, err := p.FindAction(t0, "ingress.a0")
	assert.NoError(t, err)
	assert.Equal(t, []ActionArg{{Name: "x", Width: 8}}, a0.Args)

	t1, err := p.FindTable("egress.t1")
	assert.NoError(t, err)
	assert.True(t, t1.Ternary())

	// a0 is not referenced by t1
	_, err = p.FindAction(t1, "ingress.a0")
	assert.True(t, errors.IsNotFound(err))
}
