// Package deadlines serves the read-only table of shared course deadlines.
package deadlines

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/deadlinebot/internal/domain"
	"gopkg.in/yaml.v3"
)

// dateLayouts are the accepted spellings of a due date in source files.
var dateLayouts = []string{"2006-01-02", "02/01/2006", "02-Jan-2006"}

// ErrUnsupportedFormat is returned for files that are neither YAML nor CSV.
var ErrUnsupportedFormat = errors.New("unsupported deadline file format")

type yamlFile struct {
	Deadlines []yamlRow `yaml:"deadlines"`
}

type yamlRow struct {
	Course     string  `yaml:"course"`
	Assignment string  `yaml:"assignment"`
	Date       string  `yaml:"date"`
	Weight     float64 `yaml:"weight"`
}

// LoadFile reads deadlines from a .yaml/.yml or .csv file. Dates are
// interpreted as midnight in loc.
func LoadFile(path string, loc *time.Location) ([]domain.SharedDeadline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open deadlines file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(f, loc)
	case ".csv":
		return DecodeCSV(f, loc)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// DecodeYAML reads a document of the form `deadlines: [{course, assignment, date, weight}]`.
func DecodeYAML(r io.Reader, loc *time.Location) ([]domain.SharedDeadline, error) {
	var doc yamlFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode deadlines yaml: %w", err)
	}

	out := make([]domain.SharedDeadline, 0, len(doc.Deadlines))
	for i, row := range doc.Deadlines {
		d, err := buildDeadline(row.Course, row.Assignment, row.Date, row.Weight, loc)
		if err != nil {
			return nil, fmt.Errorf("deadline %d: %w", i+1, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// DecodeCSV reads a CSV file whose header names the course, assignment, date
// and weight columns. Column order is free and extra columns are ignored.
func DecodeCSV(r io.Reader, loc *time.Location) ([]domain.SharedDeadline, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read deadlines csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"course", "assignment", "date", "weight"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("deadlines csv: missing %q column", required)
		}
	}

	var out []domain.SharedDeadline
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read deadlines csv line %d: %w", line, err)
		}

		weight, err := parseWeight(record[cols["weight"]])
		if err != nil {
			return nil, fmt.Errorf("deadlines csv line %d: %w", line, err)
		}
		d, err := buildDeadline(record[cols["course"]], record[cols["assignment"]], record[cols["date"]], weight, loc)
		if err != nil {
			return nil, fmt.Errorf("deadlines csv line %d: %w", line, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func buildDeadline(course, assignment, date string, weight float64, loc *time.Location) (domain.SharedDeadline, error) {
	course = strings.TrimSpace(course)
	if course == "" {
		return domain.SharedDeadline{}, errors.New("course is required")
	}
	if weight < 0 || weight > 1 {
		return domain.SharedDeadline{}, fmt.Errorf("weight %v outside [0,1]", weight)
	}
	due, err := parseDate(date, loc)
	if err != nil {
		return domain.SharedDeadline{}, err
	}
	return domain.SharedDeadline{
		Course:     course,
		Assignment: strings.TrimSpace(assignment),
		Due:        due,
		Weight:     weight,
	}, nil
}

// parseDate returns nil for blank or "TBD" values.
func parseDate(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "tbd") {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised date %q", s)
}

// parseWeight accepts fractions ("0.25") and percentages ("25%").
func parseWeight(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return 0, fmt.Errorf("parse weight %q: %w", s, err)
		}
		return v / 100, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse weight %q: %w", s, err)
	}
	return v, nil
}
