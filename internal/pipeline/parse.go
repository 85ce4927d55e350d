package pipeline

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
)

// ResultTable is the parsed form of a delimited input or result file.
type ResultTable struct {
	Columns []string
	Rows    [][]string
}

func (t *ResultTable) Empty() bool { return len(t.Rows) == 0 }

// readTable parses tab or comma separated content. The delimiter is sniffed
// from the header line; tabs win when both appear.
func readTable(data []byte) (*ResultTable, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	table := &ResultTable{}
	sep := ""
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		if sep == "" {
			sep = sniffDelimiter(text)
		}
		fields := strings.Split(text, sep)
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if table.Columns == nil {
			table.Columns = fields
			continue
		}
		if len(fields) != len(table.Columns) {
			return nil, &apperrors.DataFormatError{
				Msg:  "row has a different number of fields than the header",
				Line: line,
			}
		}
		table.Rows = append(table.Rows, fields)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if table.Columns == nil {
		return nil, &apperrors.DataFormatError{Msg: "file is empty"}
	}
	return table, nil
}

func sniffDelimiter(header string) string {
	if strings.Contains(header, "\t") {
		return "\t"
	}
	return ","
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

// columnsMatch compares header names case-insensitively.
func columnsMatch(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if !strings.EqualFold(strings.TrimSpace(got[i]), want[i]) {
			return false
		}
	}
	return true
}
