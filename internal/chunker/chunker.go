// Package chunker implements Robocurse's chunker: it walks a *tree.Node
// and emits an ordered list of domain.Chunk values bounded by size, file
// count and depth, producing a files-only chunk whenever a directory
// must be split but still has files of its own.
//
// Destination-path construction follows a strict root-containment
// discipline: every destination is built from exactly one RelativeTo
// paired with exactly one Join, so no path can ever double up.
package chunker

import (
	"github.com/pacepace/robocurse/internal/domain"
	"github.com/pacepace/robocurse/internal/robopath"
	"github.com/pacepace/robocurse/internal/tree"
)

// Caps bounds a chunk's size.
type Caps struct {
	MaxSizeBytes robopath.Size
	MaxFiles int
	MaxDepth int
	MinSizeBytes robopath.Size // advisory only, never causes files to be omitted
}

// Plan produces the ordered chunk list for one profile-run. SourceRoot is
// the effective (possibly snapshot-exposed) source path; DestinationRoot
// is the profile's destination. nextID is called once per emitted chunk to
// assign a monotonic ChunkId.
func Plan(root *tree.Node, sourceRoot, destRoot robopath.Path, mode domain.ScanMode, caps Caps, nextID func() int) []domain.Chunk {
	if mode == domain.ScanModeFlat {
		return planFlat(root, sourceRoot, destRoot, nextID)
	}
	var chunks []domain.Chunk
	planSmart(root, sourceRoot, destRoot, caps, caps.MaxDepth, nextID, &chunks)
	return chunks
}

func planSmart(n *tree.Node, sourceRoot, destRoot robopath.Path, caps Caps, depthRemaining int, nextID func() int, out *[]domain.Chunk) {
	if n.TotalFileCount == 0 {
		// Rule 1: nothing to copy here.
		return
	}

	fitsWhole := n.TotalSize <= caps.MaxSizeBytes && n.TotalFileCount <= caps.MaxFiles
	if depthRemaining == 0 || fitsWhole {
		// Rule 2: either depth is exhausted (oversize chunks are allowed
		// by the tie-break rules) or the whole subtree fits.
		*out = append(*out, wholeChunk(n, sourceRoot, destRoot, nextID))
		return
	}

	// Rule 3: split. Emit a files-only chunk for this directory's own
	// files (if any), then recurse into each child with one less depth.
	if n.LocalFileCount > 0 {
		*out = append(*out, filesOnlyChunk(n, sourceRoot, destRoot, nextID))
	}
	for _, child := range n.Children {
		planSmart(child, sourceRoot, destRoot, caps, depthRemaining-1, nextID, out)
	}
}

func planFlat(root *tree.Node, sourceRoot, destRoot robopath.Path, nextID func() int) []domain.Chunk {
	var out []domain.Chunk
	// Flat mode: one chunk per top-level child (whole subtree, regardless
	// of size), plus one files-only chunk for the root's own files.
	if root.LocalFileCount > 0 {
		out = append(out, filesOnlyChunk(root, sourceRoot, destRoot, nextID))
	}
	for _, child := range root.Children {
		if child.TotalFileCount == 0 {
			continue
		}
		out = append(out, wholeChunk(child, sourceRoot, destRoot, nextID))
	}
	return out
}

func wholeChunk(n *tree.Node, sourceRoot, destRoot robopath.Path, nextID func() int) domain.Chunk {
	return domain.Chunk{
		ChunkId: nextID(),
		SourcePath: n.Path,
		DestinationPath: mapDest(sourceRoot, destRoot, n.Path),
		EstimatedSize: n.TotalSize,
		EstimatedFiles: n.TotalFileCount,
		IsFilesOnly: false,
		Status: domain.ChunkPending,
	}
}

func filesOnlyChunk(n *tree.Node, sourceRoot, destRoot robopath.Path, nextID func() int) domain.Chunk {
	return domain.Chunk{
		ChunkId: nextID(),
		SourcePath: n.Path,
		DestinationPath: mapDest(sourceRoot, destRoot, n.Path),
		EstimatedSize: n.LocalSize,
		EstimatedFiles: n.LocalFileCount,
		IsFilesOnly: true,
		Status: domain.ChunkPending,
	}
}

// mapDest is the sole place a Chunk's DestinationPath is computed, so the
// "no path doubling" invariant has exactly one implementation to audit.
func mapDest(sourceRoot, destRoot, nodePath robopath.Path) robopath.Path {
	rel, err := robopath.RelativeTo(sourceRoot, nodePath)
	if err != nil {
		// nodePath always comes from walking sourceRoot's own tree, so this
		// would indicate an internal invariant violation, not bad input.
		panic("chunker: node path is not under its own source root: " + err.Error())
	}
	return robopath.Join(destRoot, rel)
}

// NewIDCounter returns a monotonic ChunkId generator starting at 1,
// suitable as the nextID argument to Plan.
func NewIDCounter() func() int {
	id := 0
	return func() int {
		id++
		return id
	}
}

// TotalSize/TotalFiles sum a chunk list's estimates; used both by callers
// reporting plan size and by tests checking the coverage invariant.
func TotalSize(chunks []domain.Chunk) robopath.Size {
	var sum robopath.Size
	for _, c := range chunks {
		sum = sum.Add(c.EstimatedSize)
	}
	return sum
}

func TotalFiles(chunks []domain.Chunk) int {
	sum := 0
	for _, c := range chunks {
		sum += c.EstimatedFiles
	}
	return sum
}
