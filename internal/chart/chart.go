// Package chart renders query results as PNG charts. A chart is only ever a
// best-effort addition to an answer: callers treat any error here as a cue to
// respond without an image rather than fail the request.
package chart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	gochart "github.com/wcharczuk/go-chart/v2"

	"github.com/sqlchat/sqlchat/internal/db"
)

// ErrNotRenderable marks result shapes that cannot become a chart: missing
// or non-read-only SQL, empty results, fewer than two columns, or a second
// column that is not numeric.
var ErrNotRenderable = errors.New("chart: result not renderable")

// Kind selects the chart style.
type Kind string

const (
	KindBar Kind = "bar"
	KindPie Kind = "pie"
)

// chartKeywords are the question words that signal the caller wants a chart.
var chartKeywords = []string{"chart", "graph", "visual", "plot", "pie"}

// WantsChart reports whether the question asks for a chart.
func WantsChart(question string) bool {
	lowered := strings.ToLower(question)
	for _, keyword := range chartKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

// KindForQuestion picks pie when the question mentions one, bar otherwise.
func KindForQuestion(question string) Kind {
	if strings.Contains(strings.ToLower(question), "pie") {
		return KindPie
	}
	return KindBar
}

// Querier runs a read-only statement and returns the materialized result.
type Querier interface {
	Query(ctx context.Context, statement string) (db.Result, error)
}

// Renderer builds PNG charts by re-running the captured statement. The first
// result column provides labels, the second provides values.
type Renderer struct {
	db     Querier
	width  int
	height int
}

func NewRenderer(querier Querier, width, height int) *Renderer {
	if width <= 0 {
		width = 800
	}
	if height <= 0 {
		height = 500
	}
	return &Renderer{db: querier, width: width, height: height}
}

// Render executes statement and draws it as the requested kind of chart.
func (r *Renderer) Render(ctx context.Context, statement string, kind Kind) ([]byte, error) {
	if strings.TrimSpace(statement) == "" {
		return nil, fmt.Errorf("%w: no statement", ErrNotRenderable)
	}
	if !db.IsReadOnly(statement) {
		return nil, fmt.Errorf("%w: statement is not read-only", ErrNotRenderable)
	}

	result, err := r.db.Query(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("chart: query: %w", err)
	}
	if len(result.Rows) == 0 {
		return nil, fmt.Errorf("%w: empty result", ErrNotRenderable)
	}
	if len(result.Columns) < 2 {
		return nil, fmt.Errorf("%w: need at least two columns, got %d", ErrNotRenderable, len(result.Columns))
	}

	values := make([]gochart.Value, 0, len(result.Rows))
	for _, row := range result.Rows {
		value, ok := toFloat(row[1])
		if !ok {
			return nil, fmt.Errorf("%w: column %q is not numeric", ErrNotRenderable, result.Columns[1])
		}
		values = append(values, gochart.Value{Label: fmt.Sprint(row[0]), Value: value})
	}

	categoryLabel, valueLabel := axisLabels(result.Columns)

	var buf bytes.Buffer
	switch kind {
	case KindPie:
		total := 0.0
		for _, v := range values {
			total += v.Value
		}
		if total <= 0 {
			return nil, fmt.Errorf("%w: pie needs a positive total", ErrNotRenderable)
		}
		pie := gochart.PieChart{
			Title:  valueLabel + " by " + categoryLabel,
			Width:  r.width,
			Height: r.height,
			Values: values,
		}
		if err := pie.Render(gochart.PNG, &buf); err != nil {
			return nil, fmt.Errorf("chart: render pie: %w", err)
		}
	default:
		bar := gochart.BarChart{
			Title:  valueLabel + " by " + categoryLabel,
			Width:  r.width,
			Height: r.height,
			YAxis: gochart.YAxis{
				Name: valueLabel,
			},
			Bars: values,
		}
		if err := bar.Render(gochart.PNG, &buf); err != nil {
			return nil, fmt.Errorf("chart: render bar: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// axisLabels takes the first two column names, falling back to generic
// labels when a column name is blank.
func axisLabels(columns []string) (category, value string) {
	category, value = "Categories", "Values"
	if len(columns) > 0 && strings.TrimSpace(columns[0]) != "" {
		category = columns[0]
	}
	if len(columns) > 1 && strings.TrimSpace(columns[1]) != "" {
		value = columns[1]
	}
	return category, value
}

func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint64:
		return float64(value), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
