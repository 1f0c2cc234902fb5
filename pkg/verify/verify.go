// Package verify checks that a plain SQL dump looks like a real backup:
// it must define schema and carry data.
package verify

import (
	"bufio"
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

const (
	MarkerSchema = "schema definition (CREATE)"
	MarkerData   = "data insertion (INSERT INTO / COPY)"
)

var (
	schemaPrefixes = [][]byte{[]byte("CREATE ")}
	dataPrefixes   = [][]byte{[]byte("INSERT INTO "), []byte("COPY ")}
)

type Result struct {
	HasSchema bool
	HasData   bool
}

func (r Result) OK() bool {
	return r.HasSchema && r.HasData
}

// Missing lists the markers that were not found.
func (r Result) Missing() []string {
	var missing []string
	if !r.HasSchema {
		missing = append(missing, MarkerSchema)
	}
	if !r.HasData {
		missing = append(missing, MarkerData)
	}
	return missing
}

// Scan streams the dump and stops as soon as both markers are found. Only
// statement starts are inspected, so markers inside data rows do not count.
func Scan(r io.Reader, compressed bool) (Result, error) {
	var result Result

	if compressed {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return result, errors.Wrap(err, "unable to open compressed artifact")
		}
		defer gz.Close()
		r = gz
	}

	br := bufio.NewReaderSize(r, 64*1024)
	lineStart := true

	for !result.OK() {
		chunk, err := br.ReadSlice('\n')

		if lineStart && len(chunk) > 0 {
			line := bytes.TrimLeft(chunk, " \t")
			if !result.HasSchema && hasAnyPrefix(line, schemaPrefixes) {
				result.HasSchema = true
			}
			if !result.HasData && hasAnyPrefix(line, dataPrefixes) {
				result.HasData = true
			}
		}

		switch {
		case err == nil:
			lineStart = true
		case err == bufio.ErrBufferFull:
			lineStart = false
		case err == io.EOF:
			return result, nil
		default:
			return result, errors.Wrap(err, "unable to read artifact")
		}
	}

	return result, nil
}

func hasAnyPrefix(line []byte, prefixes [][]byte) bool {
	for _, p := range prefixes {
		if bytes.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
