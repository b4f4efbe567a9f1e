package crash

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Retention caps the total bytes and age of crash files kept on disk. Crash
// reports are deliberately the one on-disk artifact in an otherwise
// in-memory system, so they still need a cap like any other log sink would.
type Retention struct {
	MaxAge       time.Duration
	MaxTotalBytes int64
}

// Enforce deletes files in dir older than MaxAge, then — if still over
// MaxTotalBytes — deletes the oldest remaining files until under budget.
func (r *Retention) Enforce(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	type fi struct {
		path    string
		modTime time.Time
		size    int64
	}
	var files []fi
	cutoff := time.Now().Add(-r.MaxAge)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if r.MaxAge > 0 && info.ModTime().Before(cutoff) {
			os.Remove(path)
			continue
		}
		files = append(files, fi{path: path, modTime: info.ModTime(), size: info.Size()})
	}

	if r.MaxTotalBytes <= 0 {
		return
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= r.MaxTotalBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for _, f := range files {
		if total <= r.MaxTotalBytes {
			break
		}
		if err := os.Remove(f.path); err == nil {
			total -= f.size
		}
	}
}
