package background

import "context"

type (
	jobKeyT      struct{}
	reporterKeyT struct{}
)

var (
	jobKey      jobKeyT
	reporterKey reporterKeyT
)

// WithJob returns ctx carrying j as the current job. Errors reported with
// the returned context are buffered on j instead of shown right away.
func WithJob(ctx context.Context, j *Job) context.Context {
	return context.WithValue(ctx, jobKey, j)
}

// JobFromContext returns the current job of ctx, if any.
func JobFromContext(ctx context.Context) (*Job, bool) {
	j, ok := ctx.Value(jobKey).(*Job)
	return j, ok && j != nil
}

// Reporter routes error messages either to the current job or to the UI.
type Reporter struct {
	ui UI
}

func NewReporter(ui UI) Reporter {
	return Reporter{ui: ui}
}

// ReportError buffers text on the current job of ctx for the Poller to
// show later. Without a current job the UI is notified synchronously.
func (r Reporter) ReportError(ctx context.Context, title, text string) {
	if j, ok := JobFromContext(ctx); ok {
		j.appendError(text)
		return
	}
	if r.ui != nil {
		r.ui.NotifyImmediate(title, text)
	}
}

// WithReporter stores r in ctx for ReportError.
func WithReporter(ctx context.Context, r Reporter) context.Context {
	return context.WithValue(ctx, reporterKey, r)
}

// ReportError reports through the Reporter stored in ctx. Worker routines
// get such a context from Supervisor.Execute.
func ReportError(ctx context.Context, title, text string) {
	r, _ := ctx.Value(reporterKey).(Reporter)
	r.ReportError(ctx, title, text)
}
