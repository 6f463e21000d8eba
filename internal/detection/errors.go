package detection

import (
	"errors"
	"fmt"
)

// ErrIncompleteFrame is returned when a binary frame is shorter than the
// fixed 20-byte layout. The frame is dropped; no partial decode is produced.
var ErrIncompleteFrame = errors.New("incomplete frame: need 20 bytes")

// ErrMalformedJSON is returned when a stream line is not valid JSON.
var ErrMalformedJSON = errors.New("malformed JSON payload")

// MissingFieldError reports a required JSON detection field that was absent
// or non-numeric.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing or non-numeric field %q", e.Field)
}

// IsMissingField reports whether err is a MissingFieldError.
func IsMissingField(err error) bool {
	var mfe *MissingFieldError
	return errors.As(err, &mfe)
}
