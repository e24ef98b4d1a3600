package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ashita-ai/edustats/internal/model"
)

// Year keys outside this range are typing mistakes, not data.
const (
	minYear = 2000
	maxYear = 2100
)

// requestedYears resolves the ingest flags. A nil result selects the
// default window.
func requestedYears(list string, latest, last int) ([]int, error) {
	if strings.TrimSpace(list) != "" {
		return parseYearList(list)
	}
	if latest == 0 {
		if last < 0 {
			return nil, fmt.Errorf("--last must be positive")
		}
		return nil, nil
	}
	if err := checkYear(latest); err != nil {
		return nil, err
	}
	if last == 0 {
		last = 1
	}
	if last < 0 {
		return nil, fmt.Errorf("--last must be positive")
	}
	return model.YearWindow(latest, last), nil
}

// parseYearList accepts comma-separated years and inclusive ranges:
// "2019,2021-2023".
func parseYearList(s string) ([]int, error) {
	var years []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid year %q", part)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("invalid year range %q", part)
			}
		}
		if to < from {
			return nil, fmt.Errorf("invalid year range %q", part)
		}
		for _, y := range []int{from, to} {
			if err := checkYear(y); err != nil {
				return nil, err
			}
		}
		for y := from; y <= to; y++ {
			years = append(years, y)
		}
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("no years in %q", s)
	}
	return years, nil
}

func checkYear(y int) error {
	if y < minYear || y > maxYear {
		return fmt.Errorf("year %d out of range [%d, %d]", y, minYear, maxYear)
	}
	return nil
}

func parseSubject(s string) (model.Subject, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "math", "mathematics":
		return model.SubjectMath, nil
	case "ela", "english", "english language arts":
		return model.SubjectELA, nil
	}
	return "", fmt.Errorf("unknown --subject %q (Math or ELA)", s)
}
