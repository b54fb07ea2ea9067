package extension

import (
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quarrybuild/quarry/pkg/diag"
	"github.com/quarrybuild/quarry/pkg/label"
)

const resolverMemoSize = 512

// ResolvedInclude is an absolute file location for a load reference,
// together with the cell it resolved in.
type ResolvedInclude struct {
	Cell string
	Path string
}

// Resolver maps load references to absolute file paths. Resolution is
// pure given the root layout, so results are memoized in a bounded LRU.
type Resolver struct {
	root  string
	cells map[string]string
	memo  *lru.Cache[string, ResolvedInclude]
}

// NewResolver creates a resolver rooted at root. cells maps additional
// cell names to their root directories; the default cell (empty name)
// always maps to root.
func NewResolver(root string, cells map[string]string) *Resolver {
	memo, _ := lru.New[string, ResolvedInclude](resolverMemoSize)
	return &Resolver{root: root, cells: cells, memo: memo}
}

// Resolve turns a load reference into an absolute file path. Relative
// references (":name") resolve against fromDir in fromCell and must not
// leave that directory. Absolute references resolve against the named
// cell's root, or the default root when no cell is given.
func (r *Resolver) Resolve(ref, fromCell, fromDir string) (ResolvedInclude, error) {
	key := ref + "\x00" + fromCell + "\x00" + fromDir
	if cached, ok := r.memo.Get(key); ok {
		return cached, nil
	}

	l, err := label.Parse(ref)
	if err != nil {
		return ResolvedInclude{}, err
	}

	var resolved ResolvedInclude
	if l.Relative {
		joined := filepath.Join(fromDir, l.Name)
		if strings.ContainsAny(l.Name, "/\\") || filepath.Dir(joined) != filepath.Clean(fromDir) {
			return ResolvedInclude{}, diag.Newf(diag.KindInvalidReference,
				"Relative loads work only for files in the same directory. "+
					"Please use absolute label instead ([cell]//pkg[/pkg]:target).").WithPath(ref)
		}
		resolved = ResolvedInclude{
			Cell: fromCell,
			Path: joined,
		}
	} else {
		root, err := r.cellRoot(l.Cell)
		if err != nil {
			return ResolvedInclude{}, err
		}
		resolved = ResolvedInclude{
			Cell: l.Cell,
			Path: filepath.Join(root, filepath.FromSlash(l.PathBelowRoot())),
		}
	}

	r.memo.Add(key, resolved)
	return resolved, nil
}

func (r *Resolver) cellRoot(cell string) (string, error) {
	if cell == "" {
		return r.root, nil
	}
	root, ok := r.cells[cell]
	if !ok {
		return "", diag.Newf(diag.KindInvalidReference, "unknown cell: %s", cell)
	}
	return root, nil
}
