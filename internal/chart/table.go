// Package chart turns uploaded spreadsheets into chart configurations. A
// Table is an in-memory view of one sheet; generators pick columns and emit
// Recharts-shaped JSON configs.
package chart

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Column is one spreadsheet column with normalized name and raw cells.
type Column struct {
	Name  string
	Cells []string
}

// Table is the parsed first sheet of a workbook. Column names are trimmed
// and lowercased at load time.
type Table struct {
	Columns []Column
	Rows    int
}

// LoadTable reads a spreadsheet: the first sheet of an xlsx/xls workbook or
// a whole csv file. The first row is taken as the header.
func LoadTable(path string) (*Table, error) {
	var (
		rows [][]string
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		rows, err = loadCSV(path)
	} else {
		rows, err = loadWorkbook(path)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s is empty", filepath.Base(path))
	}

	header := rows[0]
	t := &Table{Rows: len(rows) - 1}
	for i, name := range header {
		col := Column{Name: strings.ToLower(strings.TrimSpace(name))}
		for _, row := range rows[1:] {
			cell := ""
			if i < len(row) {
				cell = strings.TrimSpace(row[i])
			}
			col.Cells = append(col.Cells, cell)
		}
		t.Columns = append(t.Columns, col)
	}
	return t, nil
}

func loadWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func loadCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

// Names returns all column names in sheet order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

func parseNumber(cell string) (float64, bool) {
	cell = strings.ReplaceAll(cell, ",", "")
	v, err := strconv.ParseFloat(cell, 64)
	return v, err == nil
}

// Numeric reports whether the column holds usable quantitative data: most
// non-empty cells parse as numbers, with more than two distinct values and a
// non-zero range. Binary flags and constants are treated as categorical.
func (c *Column) Numeric() bool {
	var (
		parsed, total int
		min, max      float64
		distinct      = map[float64]struct{}{}
	)
	for _, cell := range c.Cells {
		if cell == "" {
			continue
		}
		total++
		v, ok := parseNumber(cell)
		if !ok {
			continue
		}
		if parsed == 0 || v < min {
			min = v
		}
		if parsed == 0 || v > max {
			max = v
		}
		parsed++
		distinct[v] = struct{}{}
	}
	if total == 0 || float64(parsed)/float64(total) <= 0.8 {
		return false
	}
	return len(distinct) > 2 && max > min
}

// Values returns the column's numeric values, skipping unparseable cells.
func (c *Column) Values() []float64 {
	out := make([]float64, 0, len(c.Cells))
	for _, cell := range c.Cells {
		if v, ok := parseNumber(cell); ok {
			out = append(out, v)
		}
	}
	return out
}

// NumericNames and CategoricalNames partition the columns by Numeric().
func (t *Table) NumericNames() []string {
	var out []string
	for i := range t.Columns {
		if t.Columns[i].Numeric() {
			out = append(out, t.Columns[i].Name)
		}
	}
	return out
}

func (t *Table) CategoricalNames() []string {
	var out []string
	for i := range t.Columns {
		if !t.Columns[i].Numeric() {
			out = append(out, t.Columns[i].Name)
		}
	}
	return out
}

// Semantic aliases used when a requested column name does not literally
// exist in the sheet. First match wins.
var columnAliases = map[string][]string{
	"sales":    {"total", "sales", "revenue", "amount", "price", "quantity", "count"},
	"region":   {"region", "area", "location", "place", "zone", "territory"},
	"date":     {"date", "time", "day", "month", "year"},
	"product":  {"product", "item", "name", "title"},
	"price":    {"price", "cost", "amount", "unit price", "total"},
	"quantity": {"quantity", "qty", "count", "number", "amount"},
	"total":    {"total", "sum", "amount", "sales", "revenue"},
}

// MatchColumn resolves a user-supplied column name against the sheet: exact
// match, then substring, then semantic alias with word-boundary checks so
// "sales" does not claim "sales rep". Empty string when nothing fits.
func (t *Table) MatchColumn(target string) string {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return ""
	}
	for _, name := range t.Names() {
		if name == target {
			return name
		}
	}
	for _, name := range t.Names() {
		if strings.Contains(name, target) || strings.Contains(target, name) {
			return name
		}
	}
	for _, keyword := range columnAliases[target] {
		for _, name := range t.Names() {
			if name == keyword {
				return name
			}
			if strings.Contains(name, keyword) && wholeWord(name, keyword) {
				return name
			}
		}
	}
	return ""
}

func wholeWord(s, word string) bool {
	return strings.HasPrefix(s, word+" ") ||
		strings.HasSuffix(s, " "+word) ||
		strings.Contains(s, " "+word+" ")
}

// Preview renders the header and the first n data rows for prompt context.
func (t *Table) Preview(n int) string {
	var b strings.Builder
	b.WriteString(strings.Join(t.Names(), " | "))
	for r := 0; r < n && r < t.Rows; r++ {
		b.WriteString("\n")
		cells := make([]string, len(t.Columns))
		for i := range t.Columns {
			cells[i] = t.Columns[i].Cells[r]
		}
		b.WriteString(strings.Join(cells, " | "))
	}
	return b.String()
}
