package transform

import "fmt"

// RowValidationError describes one rejected row. Rejections are counted
// and sampled, never fatal on their own.
type RowValidationError struct {
	Line   int    `json:"line"`
	Field  string `json:"field"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
}

func (e *RowValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Reason)
	}
	return fmt.Sprintf("line %d: %s=%q: %s", e.Line, e.Field, e.Value, e.Reason)
}

// BatchQualityError reports a file whose rejection rate exceeds the
// threshold, or that has no readable rows. Nothing from it is loaded.
type BatchQualityError struct {
	Generation string
	Read       int
	Rejected   int
	Rate       float64
	Threshold  float64
}

func (e *BatchQualityError) Error() string {
	if e.Read == 0 {
		return fmt.Sprintf("batch quality: %s file has no data rows", e.Generation)
	}
	return fmt.Sprintf("batch quality: %d of %d rows rejected (%.2f%% > %.2f%%)",
		e.Rejected, e.Read, e.Rate*100, e.Threshold*100)
}
