// Package report renders human-readable summaries of fleet runs and
// checkpoint status.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/rowanlane/convoy/internal/checkpoint"
	"github.com/rowanlane/convoy/internal/fleet"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// itemRows builds one table row per item in registration order.
func itemRows(order []string, items map[string]checkpoint.ItemRecord) [][]string {
	rows := make([][]string, 0, len(order))
	for _, id := range order {
		rec, ok := items[id]
		if !ok {
			continue
		}
		detail := rec.PRURL
		if detail == "" {
			detail = rec.FailReason
		}
		rows = append(rows, []string{
			rec.ItemID,
			truncate(rec.Title, 40),
			string(rec.Status),
			strconv.Itoa(rec.Wave),
			strconv.FormatInt(rec.Tokens, 10),
			truncate(detail, 60),
		})
	}
	return rows
}

var itemHeaders = []string{"Item", "Title", "Status", "Wave", "Tokens", "PR / Reason"}

var itemAligns = []columnAlignment{
	alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft,
}

// RenderItems renders the per-item table.
func RenderItems(order []string, items map[string]checkpoint.ItemRecord) string {
	return renderTable(itemHeaders, itemRows(order, items), itemAligns)
}

// RenderRun renders a finished fleet run: the per-item table followed by
// a summary block.
func RenderRun(res *fleet.Result) string {
	var b strings.Builder
	b.WriteString(RenderItems(res.ItemOrder, res.Items))
	b.WriteString("\n\n")

	summary := [][]string{
		{"Run", res.RunID},
		{"Items", strconv.Itoa(len(res.Items))},
		{"Completed", strconv.Itoa(res.Count(checkpoint.StatusCompleted))},
		{"Code-complete", strconv.Itoa(res.Count(checkpoint.StatusCodeComplete))},
		{"Failed", strconv.Itoa(res.Count(checkpoint.StatusFailed, checkpoint.StatusBlocked))},
		{"Budget-exceeded", strconv.Itoa(res.Count(checkpoint.StatusBudgetExceeded))},
		{"Held on dependencies", strconv.Itoa(res.Count(
			checkpoint.StatusDepFailed, checkpoint.StatusDepBlocked,
			checkpoint.StatusDepMergeConflict, checkpoint.StatusDepBuildBroken))},
		{"Total tokens", strconv.FormatInt(res.TotalTokens, 10)},
		{"Duration", res.Duration.Round(time.Second).String()},
	}
	if res.Interrupted {
		summary = append(summary, []string{"Interrupted", "yes"})
	}
	b.WriteString(renderTable([]string{"Summary", ""}, summary, []columnAlignment{alignLeft, alignRight}))
	return b.String()
}

// RenderStatus renders the current fleet checkpoint, for inspecting an
// in-flight or finished run from another terminal.
func RenderStatus(fc *checkpoint.FleetCheckpoint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s", fc.RunID)
	if fc.ResumeCount > 0 {
		fmt.Fprintf(&b, " (resumed %d times)", fc.ResumeCount)
	}
	b.WriteString("\n")
	b.WriteString(RenderItems(fc.ItemOrder, fc.Items))
	fmt.Fprintf(&b, "\nTotal tokens: %d\n", fc.TotalTokens)
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
