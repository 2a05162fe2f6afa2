package telemetry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

const chunkSize = 4096

var ErrMalformedLine = errors.New("malformed telemetry line")

// Sample is the value and unit recorded on the last line of a sensor log.
type Sample struct {
	Value string `json:"value"`
	Unit  string `json:"unit"`
}

func (s Sample) String() string {
	return s.Value + "/" + s.Unit
}

// Reading is one sensor log and what could be read from it.
type Reading struct {
	Name   string
	Path   string
	Sample Sample
	Err    error
}

// LastLine returns the final line of the first size bytes of r without its
// line terminator. A single trailing newline is ignored. Reads go backwards
// from the end in chunks, so the cost is bounded by the line length.
func LastLine(r io.ReaderAt, size int64) ([]byte, error) {
	end := size
	if end > 0 {
		last := make([]byte, 1)
		if _, err := r.ReadAt(last, end-1); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if last[0] == '\n' {
			end--
		}
	}

	var line []byte
	pos := end
	for pos > 0 {
		n := int64(chunkSize)
		if n > pos {
			n = pos
		}
		buf := make([]byte, n)
		if _, err := r.ReadAt(buf, pos-n); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
			line = append(buf[i+1:], line...)
			break
		}
		line = append(buf, line...)
		pos -= n
	}
	return bytes.TrimSuffix(line, []byte("\r")), nil
}

func ReadLastSample(path string) (Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sample{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Sample{}, err
	}
	line, err := LastLine(f, info.Size())
	if err != nil {
		return Sample{}, fmt.Errorf("read last line of %s: %w", path, err)
	}
	return ParseLine(line)
}

// ParseLine extracts fields 1 and 2 of a comma separated log line.
func ParseLine(line []byte) (Sample, error) {
	if !utf8.Valid(line) {
		return Sample{}, fmt.Errorf("%w: not valid UTF-8", ErrMalformedLine)
	}
	fields := strings.Split(string(line), ",")
	if len(fields) < 3 {
		return Sample{}, fmt.Errorf("%w: want at least 3 fields, got %d", ErrMalformedLine, len(fields))
	}
	return Sample{Value: fields[1], Unit: fields[2]}, nil
}

func ListSensors(dir string, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob sensor logs: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadAll reads the latest sample of every sensor log in dir. A failure on
// one file is recorded on its Reading and does not stop the others.
func ReadAll(dir string, pattern string) ([]Reading, error) {
	paths, err := ListSensors(dir, pattern)
	if err != nil {
		return nil, err
	}
	readings := make([]Reading, 0, len(paths))
	for _, path := range paths {
		sample, err := ReadLastSample(path)
		readings = append(readings, Reading{
			Name:   filepath.Base(path),
			Path:   path,
			Sample: sample,
			Err:    err,
		})
	}
	return readings, nil
}
