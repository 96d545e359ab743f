package nn

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// SaveDir writes every parameter to dir as <name>.npy.
func (ps *Params) SaveDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	for _, p := range ps.list {
		if err := writeNpy(filepath.Join(dir, p.Name+".npy"), p.Value); err != nil {
			return err
		}
	}
	return nil
}

func writeNpy(path string, t *tensor.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := t.WriteNpy(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Close()
}

// LoadDir reads <name>.npy for every parameter found in dir. Parameters without a file keep
// their current values.
//
// Arguments:
//   - dir: Directory written by SaveDir or an exporter using the same names.
//
// Returns:
//   - int: Number of parameters loaded.
//   - error: Unreadable file, wrong dtype or wrong shape.
func (ps *Params) LoadDir(dir string) (int, error) {
	loaded := 0
	for _, p := range ps.list {
		path := filepath.Join(dir, p.Name+".npy")
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return loaded, errors.Wrapf(err, "open %s", path)
		}
		t := new(tensor.Dense)
		err = t.ReadNpy(f)
		f.Close()
		if err != nil {
			return loaded, errors.Wrapf(err, "read %s", path)
		}
		if t.Dtype() != tensor.Float32 {
			return loaded, errors.Errorf("%s holds %v, want float32", path, t.Dtype())
		}
		if !t.Shape().Eq(p.Shape()) {
			return loaded, errors.Errorf("%s has shape %v, want %v", path, t.Shape(), p.Shape())
		}
		copy(p.Data(), t.Data().([]float32))
		loaded++
	}
	return loaded, nil
}
