package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

type table struct {
	headers []string
	rows    [][]string
	writer  io.Writer
}

func (c *console) newTable(headers ...string) *table {
	return &table{headers: headers, writer: c.out}
}

func (t *table) AddRow(cols ...string) {
	t.rows = append(t.rows, cols)
}

func (t *table) Render() {
	w := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(t.headers, "\t"))
	for _, row := range t.rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
}

func (c *console) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
