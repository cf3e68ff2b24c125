package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fmjobs/fmjobs/internal/background"
	"github.com/fmjobs/fmjobs/internal/console"
	"github.com/fmjobs/fmjobs/internal/fsops"
	"github.com/fmjobs/fmjobs/internal/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// barRedraw is the number of polls between two job bar redraws.
const barRedraw = 20

var runCmd = &cobra.Command{
	Use:   "run <command>...",
	Short: "run starts every command as a background job and waits for all of them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doRun,
}

var waitCmd = &cobra.Command{
	Use:   "wait <command>",
	Short: "wait runs a command in the foreground, Ctrl-C asks it to terminate",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doWait,
}

var errorsCmd = &cobra.Command{
	Use:   "errors <command>",
	Short: "errors runs a command and reports its error output",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doErrors,
}

var captureCmd = &cobra.Command{
	Use:   "capture <command>",
	Short: "capture runs a command through /bin/sh and forwards its output",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doCapture,
}

var duCmd = &cobra.Command{
	Use:   "du <path>...",
	Short: "du calculates directory sizes as background operations",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doDu,
}

var cpCmd = &cobra.Command{
	Use:   "cp <source> <destination>",
	Short: "cp copies a tree as a background operation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return doTransfer(cmd, "cp", "Copying", args[0], args[1], fsops.Copy)
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "mv moves a tree as a background operation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return doTransfer(cmd, "mv", "Moving", args[0], args[1], fsops.Move)
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "rm deletes paths as a background operation",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doRm,
}

// host is the event loop the supervisor is polled from.
type host struct {
	sup *background.Supervisor
	bar *console.Bar
}

func newHost(ctx context.Context, name string) (context.Context, host, error) {
	attrs := slog.Group("fmjobs",
		slog.String("cmd", name),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	var in io.Reader
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		in = os.Stdin
	}
	bar := console.NewBar(os.Stderr, flagForceBar)
	sup, err := background.Init(config.Jobs, background.Deps{
		UI:       console.NewPrompter(os.Stderr, in, config.Jobs.SuppressRepeats),
		JobBar:   bar,
		Rewriter: console.NewPathRewriter(os.Getenv("PATH")),
	})
	if err != nil {
		return ctx, host{}, err
	}
	return ctx, host{sup: sup, bar: bar}, nil
}

// loop polls the supervisor until every job is reaped. Ctrl-C raises the
// cancellation flag; running operations are waited for anyway.
func (h host) loop(ctx context.Context) error {
	ticker := time.NewTicker(flagInterval)
	defer ticker.Stop()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	for polls := 0; ; polls++ {
		stats := h.sup.Poll(ctx)
		if stats.ShowStatus {
			slog.InfoContext(ctx, "command not found and no completion available")
		}
		jobs, err := h.sup.Jobs()
		if err == nil && len(jobs) == 0 {
			return nil
		}
		if polls%barRedraw == 0 {
			h.bar.Draw()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sigs:
			h.sup.Cancellation().Request()
			if h.sup.HasActiveTrackedJobs() {
				slog.WarnContext(ctx, "background operations are still running, waiting for them")
			}
		case <-ticker.C:
		}
	}
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx, h, err := newHost(cmd.Context(), "run")
	if err != nil {
		return err
	}
	defer h.sup.Close()

	for _, text := range args {
		if err := h.sup.StartCommand(ctx, text, false); err != nil {
			return err
		}
	}
	return h.loop(ctx)
}

// interrupts raises the cancellation flag of sup on Ctrl-C until stop is
// called.
func interrupts(sup *background.Supervisor) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				sup.Cancellation().Request()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func doWait(cmd *cobra.Command, args []string) error {
	ctx, h, err := newHost(cmd.Context(), "wait")
	if err != nil {
		return err
	}
	defer h.sup.Close()

	stop := interrupts(h.sup)
	status, cancelled := h.sup.RunAndWait(ctx, strings.Join(args, " "), true)
	stop()
	if cancelled {
		slog.InfoContext(ctx, "command cancelled", "exit_code", status)
	}
	if status != 0 {
		return exitError{code: exitStatus(status)}
	}
	return nil
}

func doErrors(cmd *cobra.Command, args []string) error {
	ctx, h, err := newHost(cmd.Context(), "errors")
	if err != nil {
		return err
	}
	defer h.sup.Close()

	stop := interrupts(h.sup)
	code, _ := h.sup.RunAndCollectErrors(ctx, strings.Join(args, " "), true)
	stop()
	if code != 0 {
		return exitError{code: exitStatus(code)}
	}
	return nil
}

func doCapture(cmd *cobra.Command, args []string) error {
	ctx, h, err := newHost(cmd.Context(), "capture")
	if err != nil {
		return err
	}
	defer h.sup.Close()

	c, err := h.sup.RunAndCapture(ctx, strings.Join(args, " "), false)
	if err != nil {
		return err
	}
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(cmd.OutOrStdout(), c.Stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(cmd.ErrOrStderr(), c.Stderr)
		return err
	})
	copyErr := g.Wait()
	code, err := c.Wait()
	if err != nil {
		return err
	}
	if copyErr != nil {
		return fmt.Errorf("forwarding output: %w", copyErr)
	}
	if code != 0 {
		return exitError{code: exitStatus(code)}
	}
	return nil
}

func doDu(cmd *cobra.Command, args []string) error {
	ctx, h, err := newHost(cmd.Context(), "du")
	if err != nil {
		return err
	}
	defer h.sup.Close()

	fsys := afero.NewOsFs()
	out := cmd.OutOrStdout()
	for _, path := range args {
		total, err := fsops.Count(ctx, fsys, path)
		if err != nil {
			slog.WarnContext(ctx, "counting entries", "path", path, "error", err)
			total = 0
		}
		report := func(size int64) {
			_, _ = fmt.Fprintf(out, "%d\t%s\n", size, path)
		}
		err = h.sup.Execute(ctx, "du "+path, "Calculating size of "+path, total, true,
			fsops.DirSize(fsys, path, config.Jobs.MaxWorkers, report))
		if err != nil {
			return err
		}
	}
	return h.loop(ctx)
}

func doTransfer(cmd *cobra.Command, name, verb, src, dst string, routine func(src, dst string) background.Routine) error {
	ctx, h, err := newHost(cmd.Context(), name)
	if err != nil {
		return err
	}
	defer h.sup.Close()

	total, err := fsops.Count(ctx, afero.NewOsFs(), src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	description := fmt.Sprintf("%s %s %s", name, src, dst)
	if err := h.sup.Execute(ctx, description, verb+" "+src, total, true, routine(src, dst)); err != nil {
		return err
	}
	return h.loop(ctx)
}

func doRm(cmd *cobra.Command, args []string) error {
	ctx, h, err := newHost(cmd.Context(), "rm")
	if err != nil {
		return err
	}
	defer h.sup.Close()

	description := "rm " + strings.Join(args, " ")
	if err := h.sup.Execute(ctx, description, "Removing", len(args), true, fsops.Remove(afero.NewOsFs(), args...)); err != nil {
		return err
	}
	return h.loop(ctx)
}

// exitStatus maps the negative codes of commands which could not be run.
func exitStatus(code int) int {
	if code < 0 {
		return 1
	}
	return code
}
