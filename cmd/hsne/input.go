package main

import (
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hupe1980/hsne/internal/mmap"
)

// readPoints loads a row-major point matrix. CSV input may start with a
// header row; raw input needs dim.
func readPoints(path, format string, dim int) ([]float32, int, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv", ".txt":
			format = "csv"
		default:
			format = "raw"
		}
	}

	switch format {
	case "csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, err
		}
		defer f.Close()
		return readCSV(f, dim)
	case "raw":
		return readRaw(path, dim)
	default:
		return nil, 0, fmt.Errorf("unknown input format %q", format)
	}
}

func readCSV(r io.Reader, dim int) ([]float32, int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var (
		points []float32
		line   int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		line++

		if dim == 0 {
			dim = len(rec)
		}
		if len(rec) != dim {
			return nil, 0, fmt.Errorf("line %d: %d columns, want %d", line, len(rec), dim)
		}

		row := make([]float32, dim)
		for i, field := range rec {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				if line == 1 {
					// header
					row = nil
					break
				}
				return nil, 0, fmt.Errorf("line %d column %d: %w", line, i+1, err)
			}
			row[i] = float32(v)
		}
		points = append(points, row...)
	}

	if len(points) == 0 {
		return nil, 0, errors.New("no points in input")
	}
	return points, dim, nil
}

func readRaw(path string, dim int) ([]float32, int, error) {
	if dim <= 0 {
		return nil, 0, errors.New("-dim is required for raw input")
	}

	m, err := mmap.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer m.Close()
	_ = m.Advise(mmap.AccessSequential)

	data := m.Bytes()
	if len(data) == 0 || len(data)%(4*dim) != 0 {
		return nil, 0, fmt.Errorf("%s: %d bytes is not a whole number of %d-dimensional float32 rows", path, len(data), dim)
	}

	points := make([]float32, len(data)/4)
	for i := range points {
		points[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return points, dim, nil
}

func parseRows(s string) ([]uint32, error) {
	var rows []uint32
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid row %q", field)
		}
		rows = append(rows, uint32(v))
	}
	if len(rows) == 0 {
		return nil, errors.New("no rows to refine")
	}
	return rows, nil
}
