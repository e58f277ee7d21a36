package scraperexec

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// sandbox is the throwaway per-invocation environment for the scraper.
// The browser automation underneath keeps profile state in HOME/TMPDIR, so
// every call gets a fresh directory and the whole tree is removed afterwards
// regardless of outcome.
type sandbox struct {
	dir string
}

func newSandbox() (*sandbox, error) {
	dir, err := os.MkdirTemp("", "seatwatch-scrape-")
	if err != nil {
		return nil, errors.Wrap(err, "create scratch dir")
	}
	return &sandbox{dir: dir}, nil
}

// Env returns the bounded environment for the child process. Only PATH is
// inherited; everything stateful points into the scratch dir.
func (s *sandbox) Env() []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + s.dir,
		"TMPDIR=" + s.dir,
		"XDG_CACHE_HOME=" + filepath.Join(s.dir, ".cache"),
		"PYTHONUNBUFFERED=1",
	}
}

func (s *sandbox) Cleanup() {
	_ = os.RemoveAll(s.dir)
}
