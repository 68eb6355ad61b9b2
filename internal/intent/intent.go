// Package intent maps a user intent to its payload schema, system prompt
// and result schema, and runs one model round trip for it.
package intent

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Intent is the closed set of request kinds a user-input cycle can carry.
type Intent string

const (
	AddEvent    Intent = "add_event"
	UpdateEvent Intent = "update_event"
	CancelEvent Intent = "cancel_event"
	Feedback    Intent = "feedback"
)

// All lists every intent in declaration order.
var All = []Intent{AddEvent, UpdateEvent, CancelEvent, Feedback}

var (
	ErrMalformedModelOutput = errors.New("malformed model output")
	ErrUnimplemented        = errors.New("intent not implemented")
	ErrUnknownIntent        = errors.New("unknown intent")
)

// UnimplementedError names the intent that has no handler yet.
// errors.Is(err, ErrUnimplemented) matches it.
type UnimplementedError struct {
	Intent Intent
}

func (e *UnimplementedError) Error() string {
	return fmt.Sprintf("intent %s: not implemented", e.Intent)
}

func (e *UnimplementedError) Is(target error) bool {
	return target == ErrUnimplemented
}

// Valid reports whether i is a member of the enum.
func (i Intent) Valid() bool {
	return slices.Contains(All, i)
}

func (i Intent) String() string { return string(i) }

// Parse accepts either the wire form ("add_event") or the constant form
// ("ADD_EVENT").
func Parse(s string) (Intent, error) {
	i := Intent(strings.ToLower(strings.TrimSpace(s)))
	if !i.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownIntent, s)
	}
	return i, nil
}
