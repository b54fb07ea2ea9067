// Package glob defines the file-pattern service the evaluator consults to
// expand glob() calls in build files, together with two implementations: a
// direct filesystem walker and a caching layer that invalidates through
// filesystem notifications.
package glob

import (
	"io/fs"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/quarrybuild/quarry/pkg/diag"
)

// Result is the answer to one glob query.
type Result struct {
	// Files are the matched paths, relative to the queried directory,
	// in sorted order.
	Files []string

	// Warning carries an optional non-fatal message from the provider.
	// It surfaces as a glob-provider diagnostic on the querying file.
	Warning string
}

// Service expands glob patterns against a package directory. A query
// failure is fatal to the evaluation of the querying file.
type Service interface {
	Query(dir string, include, exclude []string) (Result, error)
}

// LocalService expands patterns directly against the filesystem using
// doublestar matching ("**" is supported).
type LocalService struct{}

// NewLocalService creates a filesystem-backed glob service.
func NewLocalService() *LocalService {
	return &LocalService{}
}

// Query implements Service.
func (s *LocalService) Query(dir string, include, exclude []string) (Result, error) {
	if _, err := os.Stat(dir); err != nil {
		return Result{}, diag.Wrap(diag.KindGlobService, "glob query failed", err)
	}

	fsys := os.DirFS(dir)
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range include {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return Result{}, diag.Wrap(diag.KindGlobService, "glob query failed", err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			excluded, err := matchesAny(exclude, m)
			if err != nil {
				return Result{}, err
			}
			if excluded || isDir(fsys, m) {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return Result{Files: files}, nil
}

func matchesAny(patterns []string, name string) (bool, error) {
	for _, p := range patterns {
		ok, err := doublestar.Match(p, name)
		if err != nil {
			return false, diag.Wrap(diag.KindGlobService, "bad exclude pattern", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func isDir(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && info.IsDir()
}
