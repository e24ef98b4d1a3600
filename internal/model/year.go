package model

import (
	"fmt"
	"time"
)

// AcademicYear identifies one reporting cycle. Key is the calendar year in
// which the cycle starts (AY 2023-2024 has key 2023).
type AcademicYear struct {
	Key       int       `json:"year_key"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// YearLabel returns the default display label for a year key.
func YearLabel(key int) string {
	return fmt.Sprintf("AY %d-%d", key, key+1)
}

// YearWindow returns the last n year keys ending at latest, oldest first.
func YearWindow(latest, n int) []int {
	if n <= 0 {
		return nil
	}
	years := make([]int, 0, n)
	for y := latest - n + 1; y <= latest; y++ {
		years = append(years, y)
	}
	return years
}
