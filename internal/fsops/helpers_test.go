package fsops_test

import (
	"os/exec"
	"testing"

	"github.com/fmjobs/fmjobs/internal/model"
)

func testJobs(t *testing.T) model.Jobs {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	cfg := model.DefaultJobs()
	cfg.Shell = sh
	return cfg
}
