package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// tableView is a rendered listing. Rows shorter than Headers are padded.
type tableView struct {
	Title   string
	Headers []string
	Rows    [][]string
	Aligns  []columnAlignment
	Footer  []string
	// Colorize enables the colored rounded style on terminals.
	Colorize bool
}

func (v tableView) render() string {
	columns := len(v.Headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if v.Colorize {
		tw.Style().Color.Header = text.Colors{text.Bold, text.FgBlue}
	}
	if v.Title != "" {
		tw.SetTitle(v.Title)
	}
	tw.AppendHeader(toRow(v.Headers, columns))
	for _, row := range v.Rows {
		tw.AppendRow(toRow(row, columns))
	}
	if len(v.Footer) > 0 {
		tw.AppendFooter(toRow(v.Footer, columns))
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(v.Aligns) && v.Aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			AlignFooter: align,
		})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func toRow(values []string, columns int) table.Row {
	row := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		if i < len(values) {
			row[i] = values[i]
		} else {
			row[i] = ""
		}
	}
	return row
}
