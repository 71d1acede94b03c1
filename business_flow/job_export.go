package businessflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/amirphl/Susanoo/app/dto"
	"github.com/amirphl/Susanoo/app/scheduler"
	"github.com/xuri/excelize/v2"
)

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

// ExportJob renders the results of one job as an XLSX workbook
func (f *JobFlowImpl) ExportJob(ctx context.Context, req *dto.JobKeyRequest) (string, []byte, error) {
	snap, err := f.snapshot(req)
	if err != nil {
		return "", nil, err
	}
	data, err := buildResultsWorkbook(snap)
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("%s_%s.xlsx", sanitizeFileName(snap.Key), snap.StartedAt.UTC().Format("20060102T150405Z"))
	return filename, data, nil
}

func buildResultsWorkbook(snap scheduler.Snapshot) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	// Rename default sheet
	if err := xl.SetSheetName(xl.GetSheetName(0), resultsSheet); err != nil {
		return nil, err
	}
	header := []string{"item", "entity_id", "create", "send", "live", "processed_at", "verified_at", "create_error", "send_error", "verify_error"}
	if err := xl.SetSheetRow(resultsSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, r := range snap.Results {
		verifiedAt := ""
		if r.VerifiedAt != nil {
			verifiedAt = formatTime(*r.VerifiedAt)
		}
		record := []string{
			r.Item,
			r.EntityID,
			string(r.Create),
			string(r.Send),
			string(r.Live),
			formatTime(r.ProcessedAt),
			verifiedAt,
			r.Raw.CreateError,
			r.Raw.SendError,
			r.Raw.VerifyError,
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(resultsSheet, cellRef, &record); err != nil {
			return nil, err
		}
	}

	if _, err := xl.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	rows := [][]string{
		{"key", snap.Key},
		{"run_id", snap.RunID},
		{"platform", snap.Platform},
		{"status", string(snap.Status)},
		{"cursor", strconv.Itoa(snap.Cursor)},
		{"total", strconv.Itoa(snap.Total)},
		{"created", strconv.Itoa(snap.Summary.Created)},
		{"duplicates", strconv.Itoa(snap.Summary.Duplicates)},
		{"create_failed", strconv.Itoa(snap.Summary.CreateFailed)},
		{"sent", strconv.Itoa(snap.Summary.Sent)},
		{"send_failed", strconv.Itoa(snap.Summary.SendFailed)},
		{"send_skipped", strconv.Itoa(snap.Summary.SendSkipped)},
	}
	live := make([]string, 0, len(snap.Summary.Live))
	for status := range snap.Summary.Live {
		live = append(live, string(status))
	}
	sort.Strings(live)
	for _, status := range live {
		rows = append(rows, []string{"live_" + strings.ToLower(status), strconv.Itoa(snap.Summary.Live[scheduler.LiveStatus(status)])})
	}
	if snap.LastError != "" {
		rows = append(rows, []string{"last_error", snap.LastError})
	}
	for i, row := range rows {
		cellRef, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := xl.SetSheetRow(summarySheet, cellRef, &row); err != nil {
			return nil, err
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sanitizeFileName(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_", "\"", "_")
	return replacer.Replace(name)
}
