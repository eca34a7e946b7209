// Package tree implements Robocurse's directory tree builder: it enumerates a source directory into an in-memory tree
// with aggregated size/file counts per node, bottom-up.
//
// The walk itself recurses with os.ReadDir with a "log and keep going"
// posture: a single unreadable entry is recorded as an EnumError rather
// than aborting the whole build.
package tree

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pacepace/robocurse/internal/robopath"
)

// Node is one directory in the tree.
type Node struct {
	Path robopath.Path
	Name string

	// LocalSize/LocalFileCount are the sum/count of files directly in this
	// directory (not descending into children).
	LocalSize robopath.Size
	LocalFileCount int

	// TotalSize/TotalFileCount are recursive sums including all children.
	// Invariant: TotalSize = LocalSize + sum(child.TotalSize), same for counts.
	TotalSize robopath.Size
	TotalFileCount int

	// PartialEnum is set when enumerating this directory's own children
	// failed: if the directory could not be read it is recorded with no
	// children and size 0, and if one file's metadata could not be read
	// that file is left out of the counts. Neither aborts the whole build.
	PartialEnum bool

	// Children are stored in deterministic, lexical (case-insensitive)
	// order by name so repeated runs chunk identically.
	Children []*Node
}

// EnumError records a single enumeration failure encountered while walking,
// without aborting the build.
type EnumError struct {
	Path robopath.Path
	Err error
}

func (e EnumError) Error() string { return e.Path.String() + ": " + e.Err.Error() }

// Build enumerates all directories under root and returns the resulting
// tree, plus any per-subtree enumeration errors encountered along the way.
// A failure to enumerate one directory never aborts the rest of the walk.
func Build(root robopath.Path) (*Node, []EnumError) {
	var errs []EnumError
	node := buildNode(root, root.Base(), &errs)
	return node, errs
}

func buildNode(path robopath.Path, name string, errs *[]EnumError) *Node {
	n := &Node{Path: path, Name: name}

	entries, err := os.ReadDir(path.String())
	if err != nil {
		*errs = append(*errs, EnumError{Path: path, Err: err})
		n.PartialEnum = true
		return n
	}

	// Stable, case-insensitive ordering up front so both files and
	// subdirectories are processed in a deterministic sequence.
	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	for _, e := range entries {
		childPath := robopath.Join(path, e.Name())

		if e.IsDir() {
			child := buildNode(childPath, e.Name(), errs)
			n.Children = append(n.Children, child)
			n.TotalSize = n.TotalSize.Add(child.TotalSize)
			n.TotalFileCount += child.TotalFileCount
			continue
		}

		info, infoErr := e.Info()
		if infoErr != nil {
			// A single file's metadata failing to resolve (race, dangling
			// symlink, permission denied) is recorded but does not abort
			// enumeration of its siblings, same posture as directory
			// enumeration failures.
			*errs = append(*errs, EnumError{Path: childPath, Err: infoErr})
			n.PartialEnum = true
			continue
		}

		size := robopath.Size(info.Size())
		n.LocalSize = n.LocalSize.Add(size)
		n.LocalFileCount++
		n.TotalSize = n.TotalSize.Add(size)
		n.TotalFileCount++
	}

	return n
}

// Walk invokes fn for every node in the tree in the same deterministic,
// pre-order sequence the chunker relies on.
func Walk(n *Node, fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		Walk(c, fn)
	}
}

// CountGroundTruth independently recomputes total size/file count by full
// recursive filesystem enumeration, used only by tests to validate Build's
// aggregation against ground truth.
func CountGroundTruth(root string) (robopath.Size, int, error) {
	var size robopath.Size
	var count int
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size = size.Add(robopath.Size(info.Size()))
		count++
		return nil
	})
	return size, count, err
}
