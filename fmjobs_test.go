package fmjobs_test

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	fmjobsPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

const config = `
version: 0
log:
    verbose: false
    format: text
jobs:
    shell: /bin/sh
    drain_timeout: 1ms
    exit_grace: 100ms
`

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("fmjobs-ci") {
		slog.Warn("integration tests ignored: run go build -race -cover -covermode=atomic -o fmjobs-ci ./cmd/fmjobs/ first")
		os.Exit(0)
	}

	var err error
	fmjobsPath, err = filepath.Abs("fmjobs-ci")
	if err != nil {
		slog.Error("can't get abspath for fmjobs-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for fmjobs-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for fmjobs-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestRun(t *testing.T) {
	dir := tmpDir(t)
	creat(t, filepath.Join(dir, "fmjobs.yaml"), []byte(config))

	stdout, stderr, err := fmjobs(t, dir, "run", "echo broken 1>&2; exit 1", "touch done")
	require.NoError(t, err, stderr)
	require.Empty(t, stdout)
	require.Contains(t, stderr, "Background Process Error: broken")
	require.FileExists(t, filepath.Join(dir, "done"))
}

func TestWait(t *testing.T) {
	dir := tmpDir(t)
	creat(t, filepath.Join(dir, "fmjobs.yaml"), []byte(config))

	_, _, err := fmjobs(t, dir, "wait", "exit 0")
	require.NoError(t, err)

	_, _, err = fmjobs(t, dir, "wait", "exit", "4")
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 4, exitErr.ExitCode())
}

func TestErrors(t *testing.T) {
	dir := tmpDir(t)
	creat(t, filepath.Join(dir, "fmjobs.yaml"), []byte(config))

	_, stderr, err := fmjobs(t, dir, "errors", "echo collected 1>&2; exit 3")
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 3, exitErr.ExitCode())
	require.Contains(t, stderr, "Background Process Error: collected")
}

func TestCapture(t *testing.T) {
	dir := tmpDir(t)
	creat(t, filepath.Join(dir, "fmjobs.yaml"), []byte(config))

	stdout, stderr, err := fmjobs(t, dir, "capture", "echo out; echo err 1>&2")
	require.NoError(t, err)
	require.Equal(t, "out\n", stdout)
	require.Contains(t, stderr, "err\n")
}

func TestFileOperations(t *testing.T) {
	dir := tmpDir(t)
	creat(t, filepath.Join(dir, "fmjobs.yaml"), []byte(config))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "sub"), 0755))
	creat(t, filepath.Join(dir, "src", "sub", "a"), bytes.Repeat([]byte("a"), 100))
	creat(t, filepath.Join(dir, "src", "b"), bytes.Repeat([]byte("b"), 23))

	stdout, stderr, err := fmjobs(t, dir, "du", "src")
	require.NoError(t, err, stderr)
	require.Equal(t, "123\tsrc\n", stdout)

	_, stderr, err = fmjobs(t, dir, "cp", "src", "copy")
	require.NoError(t, err, stderr)
	require.FileExists(t, filepath.Join(dir, "copy", "sub", "a"))

	_, stderr, err = fmjobs(t, dir, "mv", "copy", "moved")
	require.NoError(t, err, stderr)
	require.NoDirExists(t, filepath.Join(dir, "copy"))
	require.FileExists(t, filepath.Join(dir, "moved", "b"))

	_, stderr, err = fmjobs(t, dir, "rm", "moved", "src")
	require.NoError(t, err, stderr)
	require.NoDirExists(t, filepath.Join(dir, "moved"))
	require.NoDirExists(t, filepath.Join(dir, "src"))
}

func TestInvalidConfig(t *testing.T) {
	dir := tmpDir(t)
	creat(t, filepath.Join(dir, "fmjobs.yaml"), []byte(strings.Replace(config, "format: text", "format: xml", 1)))

	_, stderr, err := fmjobs(t, dir, "wait", "true")
	require.Error(t, err)
	require.Contains(t, stderr, "parsing config")
}

func fmjobs(t *testing.T, dir string, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, fmjobsPath, append([]string{"--config", "fmjobs.yaml"}, args...)...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "FMJOBSCONFIG="+filepath.Join(dir, "fmjobs.yaml"))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
