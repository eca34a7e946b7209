package auditlog

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

// dateDirLayout is the day-directory naming the design's persisted state
// layout fixes: YYYY-MM-DD under the log root, holding that day's
// operational.log, audit.jsonl and Jobs/ chunk logs.
const dateDirLayout = "2006-01-02"

func init() {
	// Registering klauspost/compress's flate implementation as the zip
	// writer's deflate method trades a small binary-size cost for faster
	// archiving than stdlib compress/flate on the multi-gigabyte log trees
	// a long-running replication job can accumulate.
	zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
}

// Rotate archives day directories under logRoot older than compressAfterDays
// into a sibling <date>.zip, then deletes any <date>.zip older than
// deleteAfterDays. It is a non-recursive top-level scan, best-effort per
// entry (a locked or half-written file never aborts the whole pass), and
// the only errors returned are environment failures reading logRoot itself.
func Rotate(logRoot string, compressAfterDays, deleteAfterDays int) error {
	entries, err := os.ReadDir(logRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("auditlog: read log root %s: %w", logRoot, err)
	}

	now := time.Now()
	compressCutoff := now.AddDate(0, 0, -compressAfterDays)
	deleteCutoff := now.AddDate(0, 0, -deleteAfterDays)

	for _, entry := range entries {
		name := entry.Name()
		day, parseErr := time.ParseInLocation(dateDirLayout, strings.TrimSuffix(name, ".zip"), time.Local)
		if parseErr != nil {
			continue
		}

		full := filepath.Join(logRoot, name)

		switch {
		case entry.IsDir():
			if day.Before(compressCutoff) {
				if err := archiveDir(full, full+".zip"); err != nil {
					continue
				}
				_ = os.RemoveAll(full)
			}
		case filepath.Ext(name) == ".zip":
			if day.Before(deleteCutoff) {
				_ = os.Remove(full)
			}
		}
	}

	return nil
}

// archiveDir writes every file under dir into a new zip at zipPath,
// preserving relative paths. A partially-written zip from a failed
// archive attempt is removed rather than left as a corrupt half-archive
// that a later Rotate call might mistake for a finished one.
func archiveDir(dir, zipPath string) (err error) {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer func() {
		out.Close()
		if err != nil {
			_ = os.Remove(zipPath)
		}
	}()

	zw := zip.NewWriter(out)
	defer func() {
		if cerr := zw.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			// Best-effort: a single unreadable entry does not abort the
			// archive of everything else in the directory.
			return nil
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		w, createErr := zw.Create(filepath.ToSlash(rel))
		if createErr != nil {
			return nil
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()
		_, _ = io.Copy(w, f)
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	return nil
}
