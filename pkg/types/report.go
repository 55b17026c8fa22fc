package types

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// Render writes the report as CSV rows of widget, metric, timestamp and
// value, with a header row.
func (r Report) Render(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"widget", "metric", "timestamp", "value"}); err != nil {
		return err
	}
	for _, wd := range r.Widgets {
		name := wd.Title
		if name == "" {
			name = wd.ID
		}
		for _, q := range wd.Queries {
			for _, p := range q.Data {
				row := []string{
					name,
					q.Metric,
					p.Timestamp.UTC().Format(time.RFC3339Nano),
					strconv.FormatFloat(p.Value, 'f', -1, 64),
				}
				if err := cw.Write(row); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
