package services

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate admits one generation pass at a time. Callers that cannot enter are
// turned away immediately instead of queueing.
type Gate interface {
	TryAcquire() (release func(), ok bool)
}

// SemaphoreGate is a Gate backed by a weighted semaphore of size one.
type SemaphoreGate struct {
	sem *semaphore.Weighted
}

// NewGate returns an open gate.
func NewGate() *SemaphoreGate {
	return &SemaphoreGate{sem: semaphore.NewWeighted(1)}
}

// TryAcquire enters the gate if it is free. The returned release func is
// safe to call more than once.
func (g *SemaphoreGate) TryAcquire() (func(), bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.sem.Release(1) })
	}, true
}
