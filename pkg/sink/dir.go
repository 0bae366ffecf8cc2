package sink

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Dir writes files below a root directory.
type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) Open(_ context.Context, name string) (io.WriteCloser, error) {
	path, err := d.path(name)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "dir sink os.MkdirAll")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "dir sink os.Create")
	}

	return &dirFile{File: f}, nil
}

func (d *Dir) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if name == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("dir sink: invalid file name %q", name)
	}
	return filepath.Join(d.root, clean), nil
}

type dirFile struct {
	*os.File
}

// Abort removes the partial file.
func (f *dirFile) Abort(error) error {
	_ = f.File.Close()
	if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "dir sink os.Remove")
	}
	return nil
}
