// Package listener holds job listeners shared by batch applications.
package listener

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	port "github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// ReportListener prints a summary table of a finished job: its status and the counts of
// every step.
type ReportListener struct {
	out io.Writer
}

func NewReportListener(out io.Writer) *ReportListener {
	return &ReportListener{out: out}
}

func (l *ReportListener) BeforeJob(context.Context, *model.JobExecution) {}

func (l *ReportListener) AfterJob(_ context.Context, je *model.JobExecution) {
	if err := l.write(je); err != nil {
		logger.Warnf("Failed to write report of job '%s': %v", je.JobName, err)
	}
}

func (l *ReportListener) write(je *model.JobExecution) error {
	var elapsed time.Duration
	if je.EndTime != nil {
		elapsed = je.EndTime.Sub(je.StartTime).Round(time.Millisecond)
	}
	if _, err := fmt.Fprintf(l.out, "Job %s (execution %s): %s, exit %s, took %s\n",
		je.JobName, je.ID, je.Status, je.ExitStatus, elapsed); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(l.out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "STEP\tSTATUS\tREAD\tWRITTEN\tFILTERED\tSKIPPED\tFAILED\tCOMMITS\tROLLBACKS\t")
	for _, se := range je.StepExecutions() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
			se.StepName, se.ExitStatus, se.ReadCount, se.WriteCount, se.FilterCount,
			se.SkipCount(), se.FailedCount, se.CommitCount, se.RollbackCount)
	}
	res := je.Result()
	fmt.Fprintf(tw, "TOTAL\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
		res.Status, res.ReadCount, res.WriteCount, res.FilterCount,
		res.SkipCount(), res.FailedCount, res.CommitCount, res.RollbackCount)
	if err := tw.Flush(); err != nil {
		return err
	}
	if res.Err != nil {
		_, err := fmt.Fprintf(l.out, "Error: %v\n", res.Err)
		return err
	}
	return nil
}

var _ port.JobExecutionListener = (*ReportListener)(nil)
