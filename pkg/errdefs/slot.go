package errdefs

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Slot holds the most recent error reported by an operation whose result
// cannot carry one. Nothing resets it implicitly: a successful call leaves
// the previous error in place until Clear is called or another error is set.
type Slot struct {
	mu   sync.Mutex
	err  error
	seq  uint64
	log  *logrus.Logger
	name string
}

// NewSlot creates a slot that traces every Set at debug level
func NewSlot(name string, log *logrus.Logger) *Slot {
	if log == nil {
		log = logrus.New()
	}
	return &Slot{name: name, log: log}
}

// Set records err as the last error. A nil err is ignored.
func (s *Slot) Set(err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	s.err = err
	s.seq++
	s.mu.Unlock()

	if s.log != nil {
		s.log.WithField("slot", s.name).Debugf("error recorded: %v", err)
	}
}

// Last returns the last recorded error, or nil
func (s *Slot) Last() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Seq returns a counter incremented by every Set. Callers compare it
// around a call to tell whether that call recorded an error.
func (s *Slot) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Clear drops the recorded error
func (s *Slot) Clear() {
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
}
