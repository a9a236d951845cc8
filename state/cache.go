// Package state keeps per-speaker recurrent state across mini-batches.
//
// A Cache belongs to exactly one epoch runner invocation. Repackaging
// replaces the stored values, so two runners must never share a cache.
package state

import (
	"github.com/sirupsen/logrus"

	"github.com/ieee0824/tts-go/model"
)

// Initializer creates fresh hidden and output states for a batch size.
// Models with a single state return nil for the output state.
type Initializer func(batchSize int) (hidden, output model.State)

// Entry is the cached pair for one speaker.
type Entry struct {
	Hidden model.State
	Output model.State
}

// Cache maps a speaker key to its latest recurrent state. At most one entry
// exists per speaker.
type Cache struct {
	init    Initializer
	entries map[string]Entry
	log     logrus.FieldLogger
}

// NewCache returns an empty cache that creates missing states with init.
func NewCache(init Initializer, log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{init: init, entries: make(map[string]Entry), log: log}
}

// GetOrInit returns the state to feed the next batch of speaker.
//
// An unseen speaker gets a fresh state of batchSize. A known speaker gets its
// cached state repackaged: detached from the previous batch and reconciled to
// batchSize, truncating the batch axis when the batch shrank and
// re-initializing when it grew.
func (c *Cache) GetOrInit(speaker string, batchSize int) (hidden, output model.State) {
	e, ok := c.entries[speaker]
	if !ok {
		c.log.WithFields(logrus.Fields{"speaker": speaker, "batch_size": batchSize}).Debug("init recurrent state")
		return c.init(batchSize)
	}
	h, hGrew := repackage(e.Hidden, batchSize)
	o, oGrew := repackage(e.Output, batchSize)
	if hGrew || oGrew {
		c.log.WithFields(logrus.Fields{"speaker": speaker, "batch_size": batchSize}).Debug("state batch grew, re-init")
		fh, fo := c.init(batchSize)
		if hGrew {
			h = fh
		}
		if oGrew {
			o = fo
		}
	}
	return h, o
}

// repackage detaches s and fits it to batchSize. grew reports that the
// cached batch axis is too short and the slot needs a fresh state.
func repackage(s model.State, batchSize int) (_ model.State, grew bool) {
	if s == nil {
		return nil, false
	}
	n := s.BatchSize()
	switch {
	case n == batchSize:
		return s.Detach(), false
	case n > batchSize:
		return s.Truncate(batchSize).Detach(), false
	default:
		return nil, true
	}
}

// Put stores the state produced by the latest forward pass of speaker.
func (c *Cache) Put(speaker string, hidden, output model.State) {
	c.entries[speaker] = Entry{Hidden: hidden, Output: output}
}

// Drop forgets the state of speaker.
func (c *Cache) Drop(speaker string) {
	delete(c.entries, speaker)
}

// Has reports whether speaker has a cached state.
func (c *Cache) Has(speaker string) bool {
	_, ok := c.entries[speaker]
	return ok
}

// Len returns the number of cached speakers.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Reset drops every entry; called at the end of an epoch.
func (c *Cache) Reset() {
	c.entries = make(map[string]Entry)
}
