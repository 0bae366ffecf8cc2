package ndjson

import (
	"fmt"
)

// DecodeError reports a line that is not a valid JSON value.
// Line is 1-based and counts empty lines too.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("error parsing ndjson on line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// OverflowError is returned when no line terminator is found within Limit bytes.
type OverflowError struct {
	Line  int
	Limit int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("buffer overflow on line %d: no EOL found in %d subsequent characters", e.Line, e.Limit)
}
