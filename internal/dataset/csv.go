package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

type CSVOptions struct {
	// LabelColumn names the label column; empty means the last column.
	LabelColumn string
	// Classes fixes the class count; zero infers max(label)+1.
	Classes int
}

func LoadCSVFile(path string, opts CSVOptions) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return Set{}, err
	}
	defer f.Close()
	set, err := LoadCSV(f, opts)
	if err != nil {
		return Set{}, fmt.Errorf("load %s: %w", path, err)
	}
	return set, nil
}

// LoadCSV reads a headed CSV of numeric features and one integer label column.
func LoadCSV(in io.Reader, opts CSVOptions) (Set, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return Set{}, fmt.Errorf("empty csv")
	}
	if err != nil {
		return Set{}, fmt.Errorf("read csv header: %w", err)
	}
	labelIdx := len(header) - 1
	if name := strings.TrimSpace(opts.LabelColumn); name != "" {
		labelIdx = -1
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				labelIdx = i
				break
			}
		}
		if labelIdx < 0 {
			return Set{}, fmt.Errorf("label column %q not found", name)
		}
	}
	if len(header) < 2 {
		return Set{}, fmt.Errorf("csv needs at least one feature and a label column")
	}

	var (
		values []float64
		labels []int
	)
	maxLabel := 0
	rowIndex := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Set{}, fmt.Errorf("read csv row %d: %w", rowIndex, err)
		}
		if blankRecord(record) {
			continue
		}
		if len(record) != len(header) {
			return Set{}, fmt.Errorf("csv row %d has %d fields, header has %d", rowIndex, len(record), len(header))
		}
		for i, field := range record {
			field = strings.TrimSpace(field)
			if i == labelIdx {
				label, err := strconv.Atoi(field)
				if err != nil || label < 0 {
					return Set{}, fmt.Errorf("csv row %d: invalid label %q", rowIndex, field)
				}
				labels = append(labels, label)
				maxLabel = max(maxLabel, label)
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return Set{}, fmt.Errorf("csv row %d column %s: %w", rowIndex, header[i], err)
			}
			values = append(values, v)
		}
		rowIndex++
	}
	if len(labels) == 0 {
		return Set{}, fmt.Errorf("csv has no rows")
	}

	classes := opts.Classes
	if classes == 0 {
		classes = max(maxLabel+1, 2)
	}
	set := Set{
		X:       mat.NewDense(len(labels), len(header)-1, values),
		Y:       labels,
		Classes: classes,
	}
	if err := set.Validate(); err != nil {
		return Set{}, err
	}
	return set, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
