package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/FlavioCFOliveira/crcheck/internal/harness"
)

// CSVWriter streams mismatching elements as case,stream,index,expected,actual
// rows.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter writes rows to w. The header is written immediately.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	c := &CSVWriter{writer: csv.NewWriter(w)}
	if err := c.writer.Write([]string{"case", "stream", "index", "expected", "actual"}); err != nil {
		return nil, fmt.Errorf("report: write header: %w", err)
	}
	return c, nil
}

// CreateCSV creates or truncates filename and returns a writer on it.
func CreateCSV(filename string) (*CSVWriter, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("report: open %s: %w", filename, err)
	}
	c, err := NewCSVWriter(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	c.file = file
	return c, nil
}

// Write appends every mismatch of r.
func (c *CSVWriter) Write(r *harness.Result) error {
	name := r.Case.Name
	for _, m := range r.Output.Mismatches {
		record := []string{
			name,
			"output",
			strconv.Itoa(m.Index),
			strconv.FormatFloat(m.Expected, 'g', -1, 32),
			strconv.FormatFloat(m.Actual, 'g', -1, 32),
		}
		if err := c.writer.Write(record); err != nil {
			return fmt.Errorf("report: write record: %w", err)
		}
	}
	if r.Argmax != nil {
		for _, m := range r.Argmax.Mismatches {
			record := []string{
				name,
				"argmax",
				strconv.Itoa(m.Index),
				strconv.Itoa(int(m.Expected)),
				strconv.Itoa(int(m.Actual)),
			}
			if err := c.writer.Write(record); err != nil {
				return fmt.Errorf("report: write record: %w", err)
			}
		}
	}
	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes pending rows and closes the file opened by CreateCSV.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	err := c.writer.Error()
	if c.file != nil {
		if cerr := c.file.Close(); err == nil {
			err = cerr
		}
		c.file = nil
	}
	return err
}
