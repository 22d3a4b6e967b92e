package envoy

import (
	"bytes"
	"fmt"
	"runtime/debug"
	"unicode/utf8"

	"github.com/saintfish/chardet"
)

// charsetSample bounds how much of a rejected payload is handed to the
// charset detector.
const charsetSample = 4096

// Decoder interprets caller memory as text. It runs inside a Shield.
type Decoder func(raw []byte) (string, error)

// EncodingError describes a payload that is not valid UTF-8 text.
type EncodingError struct {
	// Offset is the byte offset of the first invalid sequence.
	Offset int
	// Charset is the detector's best guess for the payload, if any.
	Charset    string
	Confidence int
	Reason     string
}

func (e *EncodingError) Error() string {
	if e.Charset != "" {
		return fmt.Sprintf("%s at byte %d (looks like %s, confidence %d)", e.Reason, e.Offset, e.Charset, e.Confidence)
	}
	return fmt.Sprintf("%s at byte %d", e.Reason, e.Offset)
}

func (e *EncodingError) Unwrap() error {
	return ErrInvalidEncoding
}

// DecodeUTF8 is the default Decoder. Payloads must be valid UTF-8 and must not
// contain NUL, since they round-trip through C strings.
func DecodeUTF8(raw []byte) (string, error) {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		return "", &EncodingError{Offset: i, Reason: "embedded NUL"}
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	encErr := &EncodingError{Offset: invalidOffset(raw), Reason: "invalid UTF-8"}
	sample := raw
	if len(sample) > charsetSample {
		sample = sample[:charsetSample]
	}
	if guess, err := chardet.NewTextDetector().DetectBest(sample); err == nil {
		encErr.Charset = guess.Charset
		encErr.Confidence = guess.Confidence
	}
	return "", encErr
}

func invalidOffset(raw []byte) int {
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(raw)
}

// FaultError is a panic contained by a Shield.
type FaultError struct {
	Op    string
	Value any
	Stack []byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: contained panic: %v", e.Op, e.Value)
}

func (e *FaultError) Unwrap() error {
	return ErrInternalFault
}

// Shield runs steps that interpret caller-supplied memory and converts a
// panic in those steps into an ErrInternalFault instead of letting it unwind
// into the caller.
//
// While a step runs, debug.SetPanicOnFault is enabled for the goroutine, so a
// memory fault raised by Go code reading the caller's bytes is also recovered.
// It cannot contain faults raised inside C code (for example strlen on a bad
// pointer) and cannot detect reads of memory that is mapped but stale; valid,
// live buffers remain the caller's precondition.
type Shield struct {
	decode Decoder
}

// NewShield creates a shield around the given decoder. A nil decoder selects DecodeUTF8.
func NewShield(decode Decoder) *Shield {
	if decode == nil {
		decode = DecodeUTF8
	}
	return &Shield{decode: decode}
}

// Decode runs the decoder under containment.
func (s *Shield) Decode(raw []byte) (text string, err error) {
	err = Contain("decode", func() error {
		var derr error
		text, derr = s.decode(raw)
		return derr
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// Contain runs fn and converts a panic into a *FaultError.
func Contain(op string, fn func() error) (err error) {
	prev := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(prev)
		if r := recover(); r != nil {
			err = &FaultError{Op: op, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
