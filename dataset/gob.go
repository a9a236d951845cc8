package dataset

import (
	"encoding/gob"
	"fmt"
	"os"
)

type corpusFile struct {
	Version int // = 1
	Batches []*Batch
}

// SaveGob writes batches to path.
func SaveGob(path string, batches Memory) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(corpusFile{Version: 1, Batches: batches}); err != nil {
		f.Close()
		return fmt.Errorf("dataset: encode %s: %w", path, err)
	}
	return f.Close()
}

// LoadGob reads a corpus written by SaveGob and validates every batch.
func LoadGob(path string) (Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var c corpusFile
	if err := gob.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("dataset: decode %s: %w", path, err)
	}
	if c.Version != 1 {
		return nil, fmt.Errorf("dataset: %s has unsupported version %d", path, c.Version)
	}
	for i, b := range c.Batches {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("dataset: %s batch %d: %w", path, i, err)
		}
	}
	return Memory(c.Batches), nil
}
