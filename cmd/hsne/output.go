package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hupe1980/hsne"
)

func writeEmbedding(path string, e *hsne.Embedding) error {
	if path == "-" {
		return encodeEmbedding(os.Stdout, e)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encodeEmbedding(f, e); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// encodeEmbedding writes one CSV row per landmark: its row, original data
// index, landmark index, weight and coordinates.
func encodeEmbedding(w io.Writer, e *hsne.Embedding) error {
	cw := csv.NewWriter(w)

	header := []string{"row", "original", "landmark", "weight"}
	for d := range e.Dims {
		header = append(header, fmt.Sprintf("y%d", d))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	rec := make([]string, len(header))
	for i := range e.Len() {
		rec[0] = strconv.Itoa(i)
		rec[1] = strconv.FormatUint(uint64(e.Original[i]), 10)
		rec[2] = strconv.FormatUint(uint64(e.Landmarks[i]), 10)
		rec[3] = strconv.FormatFloat(float64(e.Weights[i]), 'g', -1, 32)
		for d, v := range e.Row(i) {
			rec[4+d] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
