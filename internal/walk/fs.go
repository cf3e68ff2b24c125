package walk

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"

	"github.com/spf13/afero"
)

// Entry is a filesystem entry found while walking.
type Entry struct {
	// Path is prefixed with the walk root.
	Path string
	// Info is nil when the entry could not be read.
	Info fs.FileInfo
}

// Tree recursively walks fsys starting at root, root included, and yields
// every entry in lexical order. It does not follow symlinks.
// A directory whose content cannot be read is yielded a second time together
// with the error. A canceled context ends the walk.
func Tree(ctx context.Context, fsys afero.Fs, root string) iter.Seq2[Entry, error] {
	if fsys == nil {
		panic("fsys is nil")
	}

	return func(yield func(Entry, error) bool) {
		fn := func(path string, info fs.FileInfo, err error) error {
			if ctx.Err() != nil {
				return filepath.SkipAll
			}
			if !yield(Entry{Path: path, Info: info}, err) {
				return filepath.SkipAll
			}
			return nil
		}
		_ = afero.Walk(fsys, root, fn)
	}
}

// Files is Tree limited to regular files. Errors are yielded as they are.
func Files(ctx context.Context, fsys afero.Fs, root string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for entry, err := range Tree(ctx, fsys, root) {
			if err == nil && !entry.Info.Mode().IsRegular() {
				continue
			}
			if !yield(entry, err) {
				return
			}
		}
	}
}
