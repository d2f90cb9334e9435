// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package ports implements a cross-process allocator of small integers, used
// to pick non-colliding control ports and device IDs when many test runs
// execute concurrently on one host. Mutual exclusion relies solely on the
// atomic create-if-absent semantics of directory creation in a directory
// shared by all cooperating processes.
package ports

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
)

var log = logging.GetLogger("ports")

const defaultTries = 10

// Allocator hands out exclusively held integers in [0, max]
type Allocator struct {
	dir     string
	max     int
	tries   int
	backoff time.Duration
	rnd     *rand.Rand
}

// NewAllocator creates an allocator over [0, max] using markers in the given
// shared directory
func NewAllocator(dir string, max int) *Allocator {
	return &Allocator{
		dir:     dir,
		max:     max,
		tries:   defaultTries,
		backoff: time.Second,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithBackoff overrides the collision backoff interval
func (a *Allocator) WithBackoff(interval time.Duration) *Allocator {
	a.backoff = interval
	return a
}

// WithTries overrides the bounded number of acquisition attempts
func (a *Allocator) WithTries(tries int) *Allocator {
	a.tries = tries
	return a
}

func (a *Allocator) markerName(value int) string {
	return filepath.Join(a.dir, fmt.Sprintf("lock_%d", value))
}

// Acquire claims a random free integer in [0, max]; each collision is
// retried after a constant backoff, up to a bounded number of tries
func (a *Allocator) Acquire() (int, error) {
	wait := backoff.NewConstantBackOff(a.backoff)
	for i := 0; i < a.tries; i++ {
		value := a.rnd.Intn(a.max + 1)
		if err := os.Mkdir(a.markerName(value), 0755); err == nil {
			log.Debugf("Acquired lease %d", value)
			return value, nil
		}
		time.Sleep(wait.NextBackOff())
	}
	return 0, errors.NewUnavailable("no free lease in [0, %d] after %d tries", a.max, a.tries)
}

// Release frees the given integer; must be called exactly once per
// successful Acquire, on all exit paths of the owning run
func (a *Allocator) Release(value int) {
	if err := os.Remove(a.markerName(value)); err != nil {
		log.Warnf("Unable to release lease %d: %v", value, err)
	}
}
