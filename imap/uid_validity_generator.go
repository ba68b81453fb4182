package imap

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrUIDValidityExhausted = errors.New("uid validity space exhausted")

// UIDValidityGenerator issues the uid validity of new mailboxes. Values never repeat within a generator.
type UIDValidityGenerator interface {
	Generate() (UID, error)
}

// EpochUIDValidityGenerator issues the seconds elapsed since its epoch, bumped past the last issued value when
// several mailboxes are created within the same second. Values thus keep growing across restarts.
type EpochUIDValidityGenerator struct {
	epoch time.Time
	now   func() time.Time

	lock sync.Mutex
	last uint32
}

func NewEpochUIDValidityGenerator(epoch time.Time) *EpochUIDValidityGenerator {
	return &EpochUIDValidityGenerator{epoch: epoch, now: time.Now}
}

func DefaultEpochUIDValidityGenerator() *EpochUIDValidityGenerator {
	return NewEpochUIDValidityGenerator(time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC))
}

func (g *EpochUIDValidityGenerator) Generate() (UID, error) {
	elapsed := g.now().Sub(g.epoch) / time.Second
	if elapsed < 0 || elapsed >= 1<<32 {
		return 0, ErrUIDValidityExhausted
	}

	g.lock.Lock()
	defer g.lock.Unlock()

	next := uint32(elapsed)

	if next <= g.last {
		if g.last == ^uint32(0) {
			return 0, ErrUIDValidityExhausted
		}

		next = g.last + 1
	}

	g.last = next

	return UID(next), nil
}

// IncrementalUIDValidityGenerator issues 1, 2, 3 and so on. Meant for tests.
type IncrementalUIDValidityGenerator struct {
	counter uint32
}

func NewIncrementalUIDValidityGenerator() *IncrementalUIDValidityGenerator {
	return &IncrementalUIDValidityGenerator{}
}

func (g *IncrementalUIDValidityGenerator) Generate() (UID, error) {
	return UID(atomic.AddUint32(&g.counter, 1)), nil
}
