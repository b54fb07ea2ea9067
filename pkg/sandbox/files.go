package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/pkg/diag"
)

// addBuildFileDepFn returns the add_build_file_dep builtin: it registers
// a file as a declared dependency of the current build file so later
// reads of it are considered tracked.
func addBuildFileDepFn(h Host) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var ref string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &ref); err != nil {
			return nil, err
		}
		path, err := resolveFileRef(h, ref)
		if err != nil {
			return nil, err
		}
		h.TrackFile(path)
		return starlark.None, nil
	}
}

// readFileFn returns the read_file builtin. Reading a file that was not
// declared with add_build_file_dep raises a sandbox warning naming the
// untracked path; the read itself still proceeds.
func readFileFn(h Host) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var ref string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &ref); err != nil {
			return nil, err
		}
		path, err := resolveFileRef(h, ref)
		if err != nil {
			return nil, err
		}
		if !h.IsTracked(path) {
			h.Warn(diag.SourceSandbox, untrackedAccessMessage(path, ref))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read_file: %w", err)
		}
		return starlark.String(data), nil
	}
}

func resolveFileRef(h Host, ref string) (string, error) {
	if strings.Contains(ref, "//") {
		return h.ResolveInclude(ref)
	}
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref), nil
	}
	return filepath.Join(h.CurrentDir(), ref), nil
}

func untrackedAccessMessage(path, ref string) string {
	return fmt.Sprintf("Access to a non-tracked file detected! %s is not a known "+
		"dependency and it should be added using 'add_build_file_dep' function before "+
		"trying to access the file, e.g.\n'add_build_file_dep(%q)'\n", path, ref)
}
