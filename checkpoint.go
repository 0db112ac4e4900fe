package main

import (
	"encoding/gob"
	"fmt"
	"os"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ParamTensor is one named parameter in a checkpoint.
type ParamTensor struct {
	Name  string
	Shape []int
	Data  []float32
}

// Checkpoint is a serialized parameter collection. With weight tying the
// embedding appears once; the head rebuilds its view at load time.
type Checkpoint struct {
	Params []ParamTensor
}

// SnapshotLearnables deep-copies the current values of the given nodes.
func SnapshotLearnables(learnables gorgonia.Nodes) (*Checkpoint, error) {
	ckpt := &Checkpoint{Params: make([]ParamTensor, 0, len(learnables))}
	for _, n := range learnables {
		v := n.Value()
		if v == nil {
			return nil, fmt.Errorf("snapshot: %s has no value", n.Name())
		}
		src, ok := v.Data().([]float32)
		if !ok {
			return nil, fmt.Errorf("snapshot: %s is not float32 backed", n.Name())
		}
		data := make([]float32, len(src))
		copy(data, src)

		shape := n.Shape()
		dims := make([]int, len(shape))
		copy(dims, shape)

		ckpt.Params = append(ckpt.Params, ParamTensor{Name: n.Name(), Shape: dims, Data: data})
	}
	return ckpt, nil
}

// Restore writes checkpoint values back into graph nodes, matched by name.
func (c *Checkpoint) Restore(learnables gorgonia.Nodes) error {
	byName := make(map[string]ParamTensor, len(c.Params))
	for _, p := range c.Params {
		byName[p.Name] = p
	}

	for _, n := range learnables {
		p, ok := byName[n.Name()]
		if !ok {
			return fmt.Errorf("restore: checkpoint has no parameter %q", n.Name())
		}
		if n.Shape().TotalSize() != len(p.Data) {
			return fmt.Errorf("restore: %q wants %d values, checkpoint has %d",
				n.Name(), n.Shape().TotalSize(), len(p.Data))
		}
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		t := tensor.New(tensor.WithShape(p.Shape...), tensor.WithBacking(data))
		if err := gorgonia.Let(n, t); err != nil {
			return fmt.Errorf("restore %q: %w", n.Name(), err)
		}
	}
	return nil
}

// Save writes the checkpoint with gob, the library-native binary encoding.
func (c *Checkpoint) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint %s: %w", path, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", path, err)
	}
	return nil
}

func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	defer f.Close()

	var c Checkpoint
	if err := gob.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &c, nil
}
