package orchestrator

import (
	"os"
	"path/filepath"

	"github.com/local/printquote/internal/bridge"
)

// workspace is a per-order scratch directory holding the downloaded
// original and the rendered preview. It is removed when the order finishes.
type workspace struct {
	dir string
}

func newWorkspace(root string) (*workspace, error) {
	dir, err := os.MkdirTemp(root, workspacePrefix+"*")
	if err != nil {
		return nil, err
	}
	return &workspace{dir: dir}, nil
}

// save writes data under a sanitized form of name and returns the path.
func (w *workspace) save(name string, data []byte) (string, error) {
	p := filepath.Join(w.dir, safeName(name))
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", err
	}
	return p, nil
}

func (w *workspace) remove() error { return os.RemoveAll(w.dir) }

func safeName(name string) string {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == "" {
		return bridge.DefaultFilename
	}
	return base
}
