// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package ports

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator(dir, 0).WithBackoff(time.Millisecond)

	value, err := a.Acquire()
	assert.NoError(t, err)
	assert.Equal(t, 0, value)

	info, err := os.Stat(filepath.Join(dir, "lock_0"))
	assert.NoError(t, err)
	assert.True(t, info.IsDir())

	a.Release(value)
	_, err = os.Stat(filepath.Join(dir, "lock_0"))
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireExhausted(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator(dir, 0).WithBackoff(time.Millisecond)

	value, err := a.Acquire()
	assert.NoError(t, err)

	// The only lease is held, so a second acquisition must fail after its
	// bounded retries
	_, err = a.Acquire()
	assert.True(t, errors.IsUnavailable(err))

	// Released leases become acquirable again
	a.Release(value)
	value, err = a.Acquire()
	assert.NoError(t, err)
	assert.Equal(t, 0, value)
	a.Release(value)
}

func TestAcquireAllDistinct(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator(dir, 3).WithBackoff(time.Millisecond).WithTries(100)

	held := make(map[int]bool)
	for i := 0; i < 4; i++ {
		value, err := a.Acquire()
		assert.NoError(t, err)
		assert.False(t, held[value])
		held[value] = true
	}
	for value := range held {
		a.Release(value)
	}
}

func TestAcquireConcurrent(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	held := make(map[int]int)

	// All callers hold their lease until everyone has acquired one, so any
	// double allocation would show up as a duplicate value
	var acquired, done sync.WaitGroup
	acquired.Add(8)
	done.Add(8)
	for i := 0; i < 8; i++ {
		go func() {
			defer done.Done()
			a := NewAllocator(dir, 7).WithBackoff(time.Millisecond).WithTries(1000)
			value, err := a.Acquire()
			assert.NoError(t, err)

			mu.Lock()
			held[value]++
			mu.Unlock()

			acquired.Done()
			acquired.Wait()
			a.Release(value)
		}()
	}
	done.Wait()

	assert.Len(t, held, 8)
	for value, count := range held {
		assert.Equal(t, 1, count, "lease %d acquired %d times", value, count)
	}
}
