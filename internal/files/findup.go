package files

import (
	"os"
	"path/filepath"
)

// FindUp searches dir and its ancestors for a file named name, returning the
// full path of the first match, or "" if the filesystem root is reached
// without one.
func FindUp(name, dir string) string {
	cur, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(cur, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ""
		}
		cur = parent
	}
}
