package chart

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Supported chart types.
const (
	TypePie     = "pie"
	TypeBar     = "bar"
	TypeLine    = "line"
	TypeScatter = "scatter"
)

const (
	pieTopN = 10
	barTopN = 20
)

// Request is a parsed chart instruction extracted from a user message.
// Column fields are hints and may name columns that do not literally exist.
type Request struct {
	Type        string
	LabelColumn string
	ValueColumn string
}

// Config is the renderer-facing chart configuration.
type Config struct {
	Data     any    `json:"data"`
	Title    string `json:"title"`
	ValueKey string `json:"valueKey,omitempty"`
	XKey     string `json:"xKey"`
	YKey     string `json:"yKey"`
	XLabel   string `json:"xLabel,omitempty"`
	YLabel   string `json:"yLabel,omitempty"`
	Name     string `json:"name,omitempty"`
}

type namedPoint struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type xyPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

var chartKeywords = []struct {
	chartType string
	keywords  []string
}{
	{TypePie, []string{"pie chart", "piechart", "pie", "donut", "doughnut"}},
	{TypeBar, []string{"bar chart", "barchart", "bar", "column", "histogram"}},
	{TypeLine, []string{"line chart", "linechart", "line", "graph", "trend"}},
	{TypeScatter, []string{"scatter", "scatter plot", "scatterplot", "scatter chart"}},
}

var genericChartWords = []string{"chart", "graph", "visualiz", "plot", "diagram"}

// Filler words that must not be mistaken for column names when parsing a
// "value by label" phrase.
var commonWords = map[string]struct{}{
	"a": {}, "the": {}, "show": {}, "create": {}, "make": {}, "chart": {},
	"pie": {}, "bar": {}, "line": {}, "of": {}, "for": {}, "scatter": {},
	"graph": {}, "plot": {}, "visual": {}, "visualize": {}, "visualization": {},
	"display": {}, "see": {}, "view": {}, "generate": {}, "give": {},
	"want": {}, "need": {}, "help": {}, "me": {},
}

// ParseRequest detects a chart instruction in a user message. It returns nil
// when the message does not ask for a chart. A bare mention of "chart" or
// "graph" without a specific type defaults to a bar chart. Phrases shaped
// like "sales by region" contribute column hints.
func ParseRequest(message string) *Request {
	lower := strings.ToLower(message)

	var chartType string
	for _, group := range chartKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				chartType = group.chartType
				break
			}
		}
		if chartType != "" {
			break
		}
	}
	if chartType == "" {
		for _, kw := range genericChartWords {
			if strings.Contains(lower, kw) {
				chartType = TypeBar
				break
			}
		}
	}
	if chartType == "" {
		return nil
	}

	req := &Request{Type: chartType}
	if idx := strings.Index(lower, " by "); idx >= 0 {
		before := strings.Fields(lower[:idx])
		after := strings.Fields(lower[idx+len(" by "):])

		if len(before) > 0 {
			if value := before[len(before)-1]; !isCommonWord(value) {
				req.ValueColumn = value
			} else if len(before) >= 2 && !isCommonWord(before[len(before)-2]) {
				req.ValueColumn = before[len(before)-2]
			}
		}
		if len(after) > 0 && !isCommonWord(after[0]) {
			req.LabelColumn = strings.Trim(after[0], ".,!?")
		}
	}
	return req
}

func isCommonWord(w string) bool {
	_, ok := commonWords[strings.Trim(w, ".,!?")]
	return ok
}

// Generate builds a chart config of the requested type from the table,
// auto-detecting columns the request leaves open. Pie and bar charts fall
// back to a row-count chart when no usable numeric column exists.
func Generate(t *Table, req Request) (json.RawMessage, error) {
	var (
		cfg *Config
		err error
	)
	switch req.Type {
	case TypePie:
		cfg, err = aggregated(t, req, pieTopN)
	case TypeBar:
		cfg, err = aggregated(t, req, barTopN)
	case TypeLine:
		cfg, err = lineChart(t, req)
	case TypeScatter:
		cfg, err = scatterChart(t)
	default:
		return nil, fmt.Errorf("unsupported chart type %q", req.Type)
	}
	if err != nil {
		if req.Type == TypePie || req.Type == TypeBar {
			cfg, err = countChart(t)
		}
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(cfg)
}

// resolve turns a column hint into an actual column name, trying the literal
// name first and semantic matching second.
func resolve(t *Table, hint string) string {
	if hint == "" {
		return ""
	}
	if t.Column(hint) != nil {
		return hint
	}
	return t.MatchColumn(hint)
}

// pickLabel chooses a categorical label column: the request's hint, then a
// semantically likely candidate, then the first categorical column.
func pickLabel(t *Table, hint string) string {
	if name := resolve(t, hint); name != "" {
		return name
	}
	categorical := t.CategoricalNames()
	for _, target := range []string{"region", "category", "type", "product"} {
		if name := t.MatchColumn(target); name != "" {
			for _, c := range categorical {
				if c == name {
					return name
				}
			}
		}
	}
	if len(categorical) > 0 {
		return categorical[0]
	}
	if len(t.Columns) > 0 {
		return t.Columns[0].Name
	}
	return ""
}

// pickValue chooses a numeric value column, excluding the label column.
func pickValue(t *Table, hint, label string) string {
	if name := resolve(t, hint); name != "" && name != label {
		if col := t.Column(name); col != nil && col.Numeric() {
			return name
		}
	}
	numeric := t.NumericNames()
	for _, target := range []string{"sales", "total", "revenue", "amount"} {
		if name := t.MatchColumn(target); name != "" && name != label {
			for _, n := range numeric {
				if n == name {
					return name
				}
			}
		}
	}
	for _, n := range numeric {
		if n != label {
			return n
		}
	}
	return ""
}

// aggregated groups values by label, sums them and keeps the topN largest
// groups. It backs both pie and bar charts.
func aggregated(t *Table, req Request, topN int) (*Config, error) {
	label := pickLabel(t, req.LabelColumn)
	value := pickValue(t, req.ValueColumn, label)
	if label == "" || value == "" {
		return nil, fmt.Errorf("no usable label/value columns (have %v)", t.Names())
	}
	labelCol, valueCol := t.Column(label), t.Column(value)

	sums := map[string]float64{}
	var order []string
	for i := 0; i < t.Rows; i++ {
		name := labelCol.Cells[i]
		v, ok := parseNumber(valueCol.Cells[i])
		if !ok {
			continue
		}
		if _, seen := sums[name]; !seen {
			order = append(order, name)
		}
		sums[name] += v
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("column %q has no numeric values", value)
	}
	sort.SliceStable(order, func(i, j int) bool { return sums[order[i]] > sums[order[j]] })
	if len(order) > topN {
		order = order[:topN]
	}

	data := make([]namedPoint, len(order))
	for i, name := range order {
		data[i] = namedPoint{Name: name, Value: sums[name]}
	}
	return &Config{
		Data:     data,
		Title:    fmt.Sprintf("%s by %s", value, label),
		ValueKey: "value",
		XKey:     "name",
		YKey:     "value",
	}, nil
}

func lineChart(t *Table, req Request) (*Config, error) {
	x := resolve(t, req.LabelColumn)
	if x == "" {
		// Prefer a date-like or categorical column for the x axis.
		if name := t.MatchColumn("date"); name != "" {
			x = name
		} else if cats := t.CategoricalNames(); len(cats) > 0 {
			x = cats[0]
		} else if len(t.Columns) > 0 {
			x = t.Columns[0].Name
		}
	}
	y := pickValue(t, req.ValueColumn, x)
	if x == "" || y == "" {
		return nil, fmt.Errorf("no usable x/y columns (have %v)", t.Names())
	}
	xCol, yCol := t.Column(x), t.Column(y)

	type row struct {
		name  string
		value float64
	}
	var rows []row
	for i := 0; i < t.Rows; i++ {
		v, ok := parseNumber(yCol.Cells[i])
		if !ok {
			continue
		}
		rows = append(rows, row{name: xCol.Cells[i], value: v})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("column %q has no numeric values", y)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	data := make([]namedPoint, len(rows))
	for i, r := range rows {
		data[i] = namedPoint{Name: r.name, Value: r.value}
	}
	return &Config{
		Data:  data,
		Title: fmt.Sprintf("%s over %s", y, x),
		XKey:  "name",
		YKey:  "value",
	}, nil
}

func scatterChart(t *Table) (*Config, error) {
	numeric := t.NumericNames()
	if len(numeric) < 2 {
		return nil, fmt.Errorf("scatter chart needs two numeric columns, have %v", numeric)
	}
	x, y := numeric[0], numeric[1]
	xCol, yCol := t.Column(x), t.Column(y)

	var data []xyPoint
	for i := 0; i < t.Rows; i++ {
		xv, okX := parseNumber(xCol.Cells[i])
		yv, okY := parseNumber(yCol.Cells[i])
		if okX && okY {
			data = append(data, xyPoint{X: xv, Y: yv})
		}
	}
	title := fmt.Sprintf("%s vs %s", y, x)
	return &Config{
		Data:   data,
		Title:  title,
		XKey:   "x",
		YKey:   "y",
		XLabel: x,
		YLabel: y,
		Name:   title,
	}, nil
}

// countChart is the last-resort pie/bar shape: occurrences of each value in
// the first column.
func countChart(t *Table) (*Config, error) {
	if len(t.Columns) == 0 || t.Rows == 0 {
		return nil, fmt.Errorf("no data available for chart")
	}
	col := &t.Columns[0]
	counts := map[string]float64{}
	var order []string
	for _, cell := range col.Cells {
		if _, seen := counts[cell]; !seen {
			order = append(order, cell)
		}
		counts[cell]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > pieTopN {
		order = order[:pieTopN]
	}
	data := make([]namedPoint, len(order))
	for i, name := range order {
		data[i] = namedPoint{Name: name, Value: counts[name]}
	}
	return &Config{
		Data:     data,
		Title:    fmt.Sprintf("Count by %s", col.Name),
		ValueKey: "value",
		XKey:     "name",
		YKey:     "value",
	}, nil
}
