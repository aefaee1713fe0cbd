package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/fusecapture/internal/label"
)

// Record is one parsed artifact row
type Record struct {
	Timestamp float64
	Channels  []float32
	Status    label.Status
	Image     int32
}

// Summary describes an artifact on disk
type Summary struct {
	Path           string
	Columns        []string
	Channels       int
	Rows           int
	HeaderCount    int
	FirstTimestamp float64
	LastTimestamp  float64
	Ordered        bool
	StatusRows     map[label.Status]int
	ImageRows      map[int32]int
}

// StatusesSorted returns the statuses present, sorted by code
func (s *Summary) StatusesSorted() []label.Status {
	out := make([]label.Status, 0, len(s.StatusRows))
	for st := range s.StatusRows {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReadAll parses every data row of the artifact at path
func ReadAll(fs afero.Fs, path string) ([]Record, error) {
	var records []Record
	_, err := scan(fs, path, func(rec Record) {
		records = append(records, rec)
	})
	return records, err
}

// Summarize walks the artifact at path and reports row counts, label
// histograms and whether timestamps are non-decreasing.
func Summarize(fs afero.Fs, path string) (*Summary, error) {
	sum := &Summary{
		Path:       path,
		Ordered:    true,
		StatusRows: make(map[label.Status]int),
		ImageRows:  make(map[int32]int),
	}
	header, err := scan(fs, path, func(rec Record) {
		if sum.Rows == 0 {
			sum.FirstTimestamp = rec.Timestamp
		} else if rec.Timestamp < sum.LastTimestamp {
			sum.Ordered = false
		}
		sum.LastTimestamp = rec.Timestamp
		sum.Rows++
		sum.StatusRows[rec.Status]++
		sum.ImageRows[rec.Image]++
	})
	if err != nil {
		return nil, err
	}
	sum.Columns = header.columns
	sum.Channels = header.channels
	sum.HeaderCount = header.count
	return sum, nil
}

type headerInfo struct {
	columns  []string
	channels int
	count    int
}

func scan(fs afero.Fs, path string, fn func(Record)) (*headerInfo, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	first, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("artifact %s is empty", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(first) < 3 || first[0] != "timestamp" {
		return nil, fmt.Errorf("artifact %s has no header row", path)
	}

	info := &headerInfo{columns: append([]string(nil), first...), count: 1}
	for _, c := range info.columns[1:] {
		if !strings.HasPrefix(c, "ch") {
			break
		}
		info.channels++
	}

	line := 1
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			return info, nil
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if fields[0] == "timestamp" {
			info.count++
			continue
		}
		rec, err := parseRecord(fields, info.channels)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		fn(rec)
	}
}

func parseRecord(fields []string, channels int) (Record, error) {
	if len(fields) < channels+3 {
		return Record{}, fmt.Errorf("expected at least %d fields, got %d", channels+3, len(fields))
	}
	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	rec := Record{Timestamp: ts, Channels: make([]float32, channels)}
	for i := 0; i < channels; i++ {
		v, err := strconv.ParseFloat(fields[1+i], 32)
		if err != nil {
			return Record{}, fmt.Errorf("invalid ch%d: %w", i+1, err)
		}
		rec.Channels[i] = float32(v)
	}
	status, err := strconv.Atoi(fields[channels+1])
	if err != nil {
		return Record{}, fmt.Errorf("invalid status: %w", err)
	}
	image, err := strconv.Atoi(fields[channels+2])
	if err != nil {
		return Record{}, fmt.Errorf("invalid image: %w", err)
	}
	rec.Status = label.Status(status)
	rec.Image = int32(image)
	return rec, nil
}
