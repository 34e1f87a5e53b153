package branches

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/liggitt/tabwriter"

	"github.com/temirov/prunekeeper/internal/pruning"
	"github.com/temirov/prunekeeper/internal/scheduler"
)

const (
	reportHeaderConstant           = "REPOSITORY\tOUTCOME\tBRANCHES\tDETAIL"
	reportRowTemplateConstant      = "%s\t%s\t%s\t%s\n"
	reportErrorOutcomeConstant     = "error"
	reportEmptyCellConstant        = "-"
	reportBranchSeparatorConstant  = ","
	reportFailureTemplateConstant  = "failed: %s"
	reportFailureSeparatorConstant = "; "
	tableMinimumWidthConstant      = 0
	tableTabWidthConstant          = 4
	tablePaddingConstant           = 2
	tablePaddingCharacterConstant  = ' '
)

// reportRenderer prints one table per prune cycle. Cycles may finish from the
// scheduler loop, so writes are serialized.
type reportRenderer struct {
	output io.Writer
	mutex  sync.Mutex
}

func newReportRenderer(output io.Writer) *reportRenderer {
	return &reportRenderer{output: output}
}

func newTableWriter(output io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(output, tableMinimumWidthConstant, tableTabWidthConstant, tablePaddingConstant, tablePaddingCharacterConstant, 0)
}

func (renderer *reportRenderer) renderCycle(results []scheduler.Result) {
	renderer.mutex.Lock()
	defer renderer.mutex.Unlock()

	tableWriter := newTableWriter(renderer.output)
	fmt.Fprintln(tableWriter, reportHeaderConstant)
	for _, result := range results {
		outcome, branches, detail := describeResult(result)
		fmt.Fprintf(tableWriter, reportRowTemplateConstant, result.Path, outcome, branches, detail)
	}
	_ = tableWriter.Flush()
}

func describeResult(result scheduler.Result) (string, string, string) {
	if result.Err != nil {
		return reportErrorOutcomeConstant, joinOrEmpty(pruning.BranchNames(result.Report.Pruned)), result.Err.Error()
	}

	report := result.Report
	switch report.Outcome {
	case pruning.OutcomePruned, pruning.OutcomeNoOp:
		return string(report.Outcome), joinOrEmpty(pruning.BranchNames(report.Pruned)), describeFailures(report.Failures)
	case pruning.OutcomePlanned:
		return string(report.Outcome), joinOrEmpty(pruning.BranchNames(report.Decision.ToDelete)), reportEmptyCellConstant
	default:
		return string(report.Outcome), reportEmptyCellConstant, reportEmptyCellConstant
	}
}

func describeFailures(failures []pruning.DeletionFailure) string {
	if len(failures) == 0 {
		return reportEmptyCellConstant
	}
	descriptions := make([]string, 0, len(failures))
	for _, failure := range failures {
		descriptions = append(descriptions, fmt.Sprintf(reportFailureTemplateConstant, failure.Branch.Name))
	}
	return strings.Join(descriptions, reportFailureSeparatorConstant)
}

func joinOrEmpty(values []string) string {
	if len(values) == 0 {
		return reportEmptyCellConstant
	}
	return strings.Join(values, reportBranchSeparatorConstant)
}
