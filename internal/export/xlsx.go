// Package export renders a learner's plan as an Excel workbook.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-planner/internal/plan"
)

const (
	SheetSchedule = "Schedule"
	SheetDays     = "Days"
	SheetBacklog  = "Backlog"
)

var (
	scheduleHeader = []any{"Date", "Subject", "Unit", "Topic", "Session", "Minutes", "State", "Title"}
	daysHeader     = []any{"Date", "Booked minutes", "Budget", "Rest day", "Tasks"}
	backlogHeader  = []any{"Subject", "Topic", "Session", "Minutes", "State"}
)

// WritePlan writes p as an XLSX workbook to w. The schedule sheet lists
// placed and completed units by date; the backlog sheet lists units still
// waiting for a day.
func WritePlan(w io.Writer, p *plan.Plan) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSchedule); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetDays, SheetBacklog} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	schedule := [][]any{scheduleHeader}
	days := [][]any{daysHeader}
	for _, d := range p.Dates() {
		tasks := p.TasksOn(d)
		for _, t := range tasks {
			schedule = append(schedule, []any{
				d.String(), t.Subject, t.Unit, t.Topic, t.SessionType.Label(), t.DurationMinutes, string(t.State), t.Payload.Title,
			})
		}
		days = append(days, []any{d.String(), p.Used(d), p.DailyBudget, p.IsRestDay(d), len(tasks)})
	}

	backlog := [][]any{backlogHeader}
	for _, s := range []plan.State{plan.StateUnplaced, plan.StateUnscheduled} {
		for _, t := range p.ByState(s) {
			backlog = append(backlog, []any{t.Subject, t.Topic, t.SessionType.Label(), t.DurationMinutes, string(t.State)})
		}
	}

	for sheet, rows := range map[string][][]any{SheetSchedule: schedule, SheetDays: days, SheetBacklog: backlog} {
		if err := writeRows(f, sheet, rows, bold); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}

	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(rows[0]))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", lastCol, 16)
}
