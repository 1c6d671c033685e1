package merge

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
)

// stagedWrite holds the new content of one output in a temporary file next
// to the target until commit renames it into place. tmp is empty when the
// target already holds exactly those bytes.
type stagedWrite struct {
	path     string
	tmp      string
	status   Status
	previous []byte
}

// stageWrite prepares dir/name to be replaced with data. Nothing visible to
// readers changes until commit; the previous content is kept for reporting.
func stageWrite(dir, name string, data []byte) (*stagedWrite, error) {
	path, err := securejoin.SecureJoin(dir, name)
	if err != nil {
		return nil, &WriteError{Path: filepath.Join(dir, name), Cause: err}
	}
	w := &stagedWrite{path: path}

	w.previous, err = os.ReadFile(path)
	switch {
	case err == nil:
		if bytes.Equal(w.previous, data) {
			w.status = StatusUnchanged
			return w, nil
		}
		w.status = StatusUpdated
	case errors.Is(err, fs.ErrNotExist):
		w.status = StatusCreated
		w.previous = nil
	default:
		return nil, &WriteError{Path: path, Cause: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &WriteError{Path: path, Cause: err}
	}
	if w.tmp, err = writeTemp(path, data); err != nil {
		return nil, &WriteError{Path: path, Cause: err}
	}
	return w, nil
}

func (w *stagedWrite) commit() error {
	if w.tmp == "" {
		return nil
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		w.discard()
		return &WriteError{Path: w.path, Cause: err}
	}
	w.tmp = ""
	return nil
}

func (w *stagedWrite) discard() {
	if w.tmp != "" {
		_ = os.Remove(w.tmp)
		w.tmp = ""
	}
}

func writeTemp(path string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	fail := func(err error) (string, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}

	if _, err := f.Write(data); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Chmod(0o644); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}
