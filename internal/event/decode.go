package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxBodyBytes caps request bodies read by the decoders.
const MaxBodyBytes = 1 << 20

// DecodeError describes a client fault in a request body. It never reaches the
// lifecycle manager.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is a client-side decode fault.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Decode reads a notify body into a validated Event.
func Decode(r io.Reader) (*Event, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, &DecodeError{Reason: "missing body"}
	}
	var p Payload
	if err := unmarshal(body, &p); err != nil {
		return nil, err
	}
	return p.Event()
}

// DecodeDismiss reads an acknowledgement body. An empty body is valid and
// yields an empty request.
func DecodeDismiss(r io.Reader) (*DismissRequest, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	var req DismissRequest
	if len(body) == 0 {
		return &req, nil
	}
	if err := unmarshal(body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func readBody(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, MaxBodyBytes+1))
	if err != nil {
		return nil, &DecodeError{Reason: "read body", Err: err}
	}
	if len(body) > MaxBodyBytes {
		return nil, &DecodeError{Reason: fmt.Sprintf("body exceeds %d bytes", MaxBodyBytes)}
	}
	body = bytes.TrimSpace(body)
	if !utf8.Valid(body) {
		return nil, &DecodeError{Reason: "invalid encoding"}
	}
	return body, nil
}

func unmarshal(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &DecodeError{Reason: "malformed JSON", Err: err}
	}
	return nil
}
