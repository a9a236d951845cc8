package nn

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type serializedNet struct {
	Version int // = 1
	Config  Config
	Hidden  []Layer
	Heads   []Layer
}

// Encode writes the parameters with gob encoding.
func (n *Net) Encode(w io.Writer) error {
	return gob.NewEncoder(w).Encode(serializedNet{Version: 1, Config: n.Config, Hidden: n.Hidden, Heads: n.Heads})
}

// Decode reads parameters written by Encode. The network starts in eval mode.
func Decode(r io.Reader) (*Net, error) {
	var sn serializedNet
	if err := gob.NewDecoder(r).Decode(&sn); err != nil {
		return nil, fmt.Errorf("nn: decode: %w", err)
	}
	if sn.Version != 1 || len(sn.Hidden) == 0 || len(sn.Heads) == 0 {
		return nil, fmt.Errorf("nn: unsupported checkpoint (version %d, %d hidden, %d heads)", sn.Version, len(sn.Hidden), len(sn.Heads))
	}
	return &Net{Config: sn.Config, Hidden: sn.Hidden, Heads: sn.Heads}, nil
}

// CheckpointPath returns the file an epoch checkpoint is written to.
func CheckpointPath(dir, name string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-e%d.gob", name, epoch))
}

// BestPath returns the file holding the best checkpoint so far.
func BestPath(dir, name string) string {
	return filepath.Join(dir, fmt.Sprintf("best-%s.gob", name))
}

// Save implements model.Checkpointer. Every epoch gets its own file; best
// additionally overwrites the best-so-far file.
func (n *Net) Save(dir, name string, epoch int, best bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := n.saveFile(CheckpointPath(dir, name, epoch)); err != nil {
		return err
	}
	if best {
		return n.saveFile(BestPath(dir, name))
	}
	return nil
}

func (n *Net) saveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := n.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a checkpoint file.
func Load(path string) (*Net, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
