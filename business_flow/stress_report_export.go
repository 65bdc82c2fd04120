package businessflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/amirphl/pallet-allocator/app/dto"
	"github.com/xuri/excelize/v2"
)

const (
	stressSummarySheet = "Summary"
	stressCallsSheet   = "Calls"
)

// ExportStressReportXLSX renders report as a workbook with a Summary and a Calls sheet
func ExportStressReportXLSX(report *dto.StressReport) (string, []byte, error) {
	if report == nil {
		return "", nil, NewBusinessError("INVALID_REQUEST", "report is required", nil)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	xl.SetSheetName(xl.GetSheetName(0), stressSummarySheet)
	if _, err := xl.NewSheet(stressCallsSheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to create calls sheet", err)
	}

	summary := [][]any{
		{"run_id", report.RunID},
		{"kind", report.Kind},
		{"started_at", report.StartedAt},
		{"callers", report.Callers},
		{"count_per_caller", report.CountPerCaller},
		{"successes", report.Successes},
		{"failures", report.Failures},
		{"total_returned", report.TotalReturned},
		{"unique_returned", report.UniqueReturned},
		{"expected", report.Expected},
		{"duplicates", len(report.Duplicates)},
		{"passed", report.Passed},
		{"release_failures", report.ReleaseFailures},
		{"wall_time_ms", report.WallTimeMs},
		{"throughput_per_s", report.ThroughputPerS},
		{"latency_min_ms", report.Latency.MinMs},
		{"latency_mean_ms", report.Latency.MeanMs},
		{"latency_p50_ms", report.Latency.P50Ms},
		{"latency_p95_ms", report.Latency.P95Ms},
		{"latency_p99_ms", report.Latency.P99Ms},
		{"latency_max_ms", report.Latency.MaxMs},
	}
	if len(report.Duplicates) > 0 {
		summary = append(summary, []any{"duplicate_identifiers", strings.Join(report.Duplicates, ", ")})
	}
	for i, row := range summary {
		cellRef, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := xl.SetSheetRow(stressSummarySheet, cellRef, &row); err != nil {
			return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write summary row", err)
		}
	}

	header := []string{"caller", "success", "latency_ms", "method", "identifiers", "error"}
	_ = xl.SetSheetRow(stressCallsSheet, "A1", &header)
	for i, call := range report.Calls {
		record := []any{
			call.Caller,
			strconv.FormatBool(call.Success),
			call.LatencyMs,
			call.Method,
			strings.Join(call.Identifiers, " "),
			call.Error,
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(stressCallsSheet, cellRef, &record); err != nil {
			return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write call row", err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("allocator_stress_%s.xlsx", report.RunID)
	return filename, buf.Bytes(), nil
}
