// Package fsops holds the filesystem routines the file manager runs as
// background operations.
package fsops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fmjobs/fmjobs/internal/background"
	"github.com/fmjobs/fmjobs/internal/parallel"
	"github.com/fmjobs/fmjobs/internal/progress"
	"github.com/fmjobs/fmjobs/internal/walk"
	"github.com/otiai10/copy"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

const (
	sizeTitle   = "Size calculation error"
	copyTitle   = "Copy error"
	moveTitle   = "Move error"
	removeTitle = "Remove error"
)

// Count returns the number of entries in the trees rooted at paths, roots
// included. It is the progress total of Copy, Move and DirSize.
func Count(ctx context.Context, fsys afero.Fs, paths ...string) (int, error) {
	var n int
	for _, path := range paths {
		for _, err := range walk.Tree(ctx, fsys, path) {
			if err != nil {
				return n, err
			}
			n++
		}
	}
	return n, ctx.Err()
}

// DirSize sums the sizes of the regular files below root. Top level
// subtrees are measured on at most limit goroutines. Progress advances once
// per entry; out receives the sum when the walk is over.
func DirSize(fsys afero.Fs, root string, limit int, out func(int64)) background.Routine {
	return func(ctx context.Context, p *progress.Info) {
		var total int64
		defer func() { out(total) }()

		info, err := fsys.Stat(root)
		if err != nil {
			report(ctx, sizeTitle, root, err)
			return
		}
		p.Advance(1)
		if !info.IsDir() {
			total = sizeOf(info)
			return
		}
		entries, err := afero.ReadDir(fsys, root)
		if err != nil {
			report(ctx, sizeTitle, root, err)
			return
		}

		measure := func(ctx context.Context, e os.FileInfo) (int64, error) {
			var size int64
			for entry, err := range walk.Tree(ctx, fsys, filepath.Join(root, e.Name())) {
				if err != nil {
					report(ctx, sizeTitle, entry.Path, err)
					continue
				}
				p.Advance(1)
				size += sizeOf(entry.Info)
			}
			return size, ctx.Err()
		}
		for size, err := range parallel.Map(ctx, limit, parallel.All(entries), measure) {
			if err != nil {
				return
			}
			total += size
		}
	}
}

func sizeOf(info os.FileInfo) int64 {
	if info == nil || !info.Mode().IsRegular() {
		return 0
	}
	return info.Size()
}

// Copy copies src to dst recursively. Progress advances once per copied
// entry. A failed entry is reported and the copy goes on.
func Copy(src, dst string) background.Routine {
	return func(ctx context.Context, p *progress.Info) {
		if err := copyTree(ctx, p, src, dst); err != nil {
			report(ctx, copyTitle, src, err)
		}
	}
}

func copyTree(ctx context.Context, p *progress.Info, src, dst string) error {
	opts := copy.Options{
		PreserveTimes: true,
		Skip: func(_ os.FileInfo, _, _ string) (bool, error) {
			if err := ctx.Err(); err != nil {
				return true, err
			}
			p.Advance(1)
			return false, nil
		},
		OnError: func(src, _ string, err error) error {
			if err == nil || errors.Is(err, context.Canceled) {
				return err
			}
			report(ctx, copyTitle, src, err)
			return nil
		},
	}
	// Skip is not asked about the root
	p.Advance(1)
	return copy.Copy(src, dst, opts)
}

// Move renames src to dst. Across filesystems it copies and removes src
// once the copy is complete.
func Move(src, dst string) background.Routine {
	return func(ctx context.Context, p *progress.Info) {
		err := os.Rename(src, dst)
		if err == nil {
			p.Update(func(s *progress.State) {
				s.Done = s.Total
				s.Progress = 100
			})
			return
		}
		if !errors.Is(err, unix.EXDEV) {
			report(ctx, moveTitle, src, err)
			return
		}
		if err := copyTree(ctx, p, src, dst); err != nil {
			report(ctx, moveTitle, src, err)
			return
		}
		if err := os.RemoveAll(src); err != nil {
			report(ctx, moveTitle, src, err)
		}
	}
}

// Remove deletes paths with everything below them. Progress advances once
// per path.
func Remove(fsys afero.Fs, paths ...string) background.Routine {
	return func(ctx context.Context, p *progress.Info) {
		for _, path := range paths {
			if ctx.Err() != nil {
				return
			}
			if err := fsys.RemoveAll(path); err != nil {
				report(ctx, removeTitle, path, err)
			}
			p.Advance(1)
		}
	}
}

func report(ctx context.Context, title, path string, err error) {
	background.ReportError(ctx, title, fmt.Sprintf("%s: %v\n", path, err))
}
