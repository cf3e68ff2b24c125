package fsops_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fmjobs/fmjobs/internal/background"
	"github.com/fmjobs/fmjobs/internal/fsops"
	"github.com/fmjobs/fmjobs/internal/progress"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type recordingUI struct {
	mu       sync.Mutex
	notified []string
}

func (u *recordingUI) ConfirmOrSuppress(string, string) bool { return false }

func (u *recordingUI) NotifyImmediate(_, text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notified = append(u.notified, text)
}

func memTree(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/data/a/b", 0o755))
	require.NoError(t, fsys.MkdirAll("/data/c", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/data/a/b/one", make([]byte, 100), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/data/a/two", make([]byte, 20), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/data/c/three", make([]byte, 3), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/data/four", make([]byte, 4000), 0o644))
	return fsys
}

func osTree(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("beta"), 0o644))
	return root
}

func TestCount(t *testing.T) {
	t.Parallel()
	fsys := memTree(t)

	n, err := fsops.Count(t.Context(), fsys, "/data")
	require.NoError(t, err)
	// data, a, a/b, a/b/one, a/two, c, c/three, four
	require.Equal(t, 8, n)

	n, err = fsops.Count(t.Context(), fsys, "/data/a", "/data/four")
	require.NoError(t, err)
	require.Equal(t, 5, n)

	_, err = fsops.Count(t.Context(), fsys, "/missing")
	require.Error(t, err)
}

func TestDirSize(t *testing.T) {
	t.Parallel()
	fsys := memTree(t)

	for _, limit := range []int{0, 1, 3} {
		total, err := fsops.Count(t.Context(), fsys, "/data")
		require.NoError(t, err)
		p := progress.New(total, "Size", nil)

		var got int64
		fsops.DirSize(fsys, "/data", limit, func(n int64) { got = n })(t.Context(), p)
		require.Equal(t, int64(4123), got)

		st := p.Snapshot()
		require.Equal(t, total, st.Done)
		require.Equal(t, 100, st.Progress)
	}
}

func TestDirSize_File(t *testing.T) {
	t.Parallel()
	fsys := memTree(t)

	var got int64
	fsops.DirSize(fsys, "/data/four", 2, func(n int64) { got = n })(t.Context(), progress.New(1, "", nil))
	require.Equal(t, int64(4000), got)
}

func TestDirSize_Missing(t *testing.T) {
	t.Parallel()
	ui := &recordingUI{}
	ctx := background.WithReporter(t.Context(), background.NewReporter(ui))

	got := int64(-1)
	fsops.DirSize(afero.NewMemMapFs(), "/missing", 2, func(n int64) { got = n })(ctx, progress.New(1, "", nil))
	require.Zero(t, got)
	require.Len(t, ui.notified, 1)
	require.Contains(t, ui.notified[0], "/missing")
}

func TestCopy(t *testing.T) {
	t.Parallel()
	src := osTree(t)
	dst := filepath.Join(t.TempDir(), "dst")

	total, err := fsops.Count(t.Context(), afero.NewOsFs(), src)
	require.NoError(t, err)
	p := progress.New(total, "Copying", nil)

	fsops.Copy(src, dst)(t.Context(), p)

	data, err := os.ReadFile(filepath.Join(dst, "sub", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(data))
	data, err = os.ReadFile(filepath.Join(dst, "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "beta", string(data))
	require.Equal(t, total, p.Snapshot().Done)
}

func TestCopy_Canceled(t *testing.T) {
	t.Parallel()
	src := osTree(t)
	dst := filepath.Join(t.TempDir(), "dst")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	fsops.Copy(src, dst)(ctx, progress.New(4, "", nil))

	_, err := os.Stat(filepath.Join(dst, "b.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMove(t *testing.T) {
	t.Parallel()
	src := osTree(t)
	dst := filepath.Join(filepath.Dir(src), "moved")
	p := progress.New(4, "Moving", nil)

	fsops.Move(src, dst)(t.Context(), p)

	_, err := os.Stat(src)
	require.ErrorIs(t, err, os.ErrNotExist)
	data, err := os.ReadFile(filepath.Join(dst, "sub", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(data))
	require.Equal(t, progress.State{Total: 4, Done: 4, Progress: 100, Description: "Moving"}, p.Snapshot())
}

func TestMove_Missing(t *testing.T) {
	t.Parallel()
	ui := &recordingUI{}
	ctx := background.WithReporter(t.Context(), background.NewReporter(ui))
	dir := t.TempDir()

	fsops.Move(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))(ctx, progress.New(1, "", nil))
	require.Len(t, ui.notified, 1)
	require.Contains(t, ui.notified[0], "nope")
}

func TestRemove(t *testing.T) {
	t.Parallel()
	fsys := memTree(t)
	p := progress.New(2, "Removing", nil)

	fsops.Remove(fsys, "/data/a", "/data/four")(t.Context(), p)

	for _, path := range []string{"/data/a", "/data/a/b/one", "/data/four"} {
		_, err := fsys.Stat(path)
		require.ErrorIs(t, err, os.ErrNotExist, path)
	}
	_, err := fsys.Stat("/data/c/three")
	require.NoError(t, err)
	require.Equal(t, 2, p.Snapshot().Done)
}

// The routines run as Operation jobs and report through the job.
func TestRoutinesAsOperations(t *testing.T) {
	t.Parallel()
	s, err := background.Init(testJobs(t), background.Deps{})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	fsys := memTree(t)
	total, err := fsops.Count(t.Context(), fsys, "/data")
	require.NoError(t, err)

	sizes := make(chan int64, 1)
	require.NoError(t, s.Execute(t.Context(), "du /data", "Calculating size", total, true,
		fsops.DirSize(fsys, "/data", 2, func(n int64) { sizes <- n })))
	require.Equal(t, int64(4123), <-sizes)

	for {
		s.Poll(t.Context())
		jobs, err := s.Jobs()
		require.NoError(t, err)
		if len(jobs) == 0 {
			break
		}
	}
	require.False(t, s.HasActiveTrackedJobs())
}
