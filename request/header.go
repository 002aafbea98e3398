// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var (
	// ErrInvalidHeaderName is returned when a header name is not a
	// valid HTTP token: it is empty, or contains a control character
	// or a separator such as ( ) < > @ , ; : \ " / [ ] ? = { }.
	ErrInvalidHeaderName = errors.New("asynchttp/request: invalid header name")
	// ErrInvalidHeaderValue is returned when a header value contains a
	// line break or another control character other than horizontal
	// tab.
	ErrInvalidHeaderValue = errors.New("asynchttp/request: invalid header value")
	// ErrInvalidMethod is returned when an HTTP method is not a valid
	// HTTP token.
	ErrInvalidMethod = errors.New("asynchttp/request: invalid method")
)

// A Field is one header name and value.
type Field struct {
	Name  string
	Value string
}

// A Header is a case-insensitive, insertion-ordered mapping from header
// name to value. The zero value is an empty header ready to use.
//
// Setting a name which is already present replaces the previous value
// and moves the field to the end of the order.
//
// Header is not safe for concurrent use by multiple goroutines. The
// engine only mutates a request's header before the request starts.
type Header struct {
	fields []Field
}

// Set validates name and value and stores them, replacing any existing
// value stored under a case-insensitively equal name. If validation
// fails, h is unchanged and the returned error wraps
// ErrInvalidHeaderName or ErrInvalidHeaderValue.
func (h *Header) Set(name, value string) error {
	if err := ValidHeader(name, value); err != nil {
		return err
	}

	h.Del(name)
	h.fields = append(h.fields, Field{Name: name, Value: value})
	return nil
}

// Get returns the value stored under name, or the empty string if
// there is none.
func (h *Header) Get(name string) string {
	if i := h.index(name); i >= 0 {
		return h.fields[i].Value
	}
	return ""
}

// Has reports whether a value is stored under name.
func (h *Header) Has(name string) bool {
	return h.index(name) >= 0
}

// Del removes the value stored under name, if any.
func (h *Header) Del(name string) {
	if i := h.index(name); i >= 0 {
		h.fields = append(h.fields[:i], h.fields[i+1:]...)
	}
}

// Len returns the number of fields in h.
func (h *Header) Len() int {
	return len(h.fields)
}

// Fields returns a copy of the fields in h, in insertion order.
func (h *Header) Fields() []Field {
	fields := make([]Field, len(h.fields))
	copy(fields, h.fields)
	return fields
}

// Apply copies every field in h onto the net/http header dst, in
// insertion order, replacing values dst already holds for the same
// names.
func (h *Header) Apply(dst http.Header) {
	for _, f := range h.fields {
		dst.Set(f.Name, f.Value)
	}
}

func (h *Header) index(name string) int {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].Name, name) {
			return i
		}
	}
	return -1
}

// ValidHeader returns an error wrapping ErrInvalidHeaderName if name is
// not a valid header name, an error wrapping ErrInvalidHeaderValue if
// value is not a valid header value, and nil otherwise.
func ValidHeader(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidHeaderName, name)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("%w for %s", ErrInvalidHeaderValue, name)
	}
	return nil
}

// ValidMethod returns an error wrapping ErrInvalidMethod unless method
// is a non-empty HTTP token.
func ValidMethod(method string) error {
	/*
	     Method         = "OPTIONS"                ; Section 9.2
	                    | "GET"                    ; Section 9.3
	                    | "HEAD"                   ; Section 9.4
	                    | "POST"                   ; Section 9.5
	                    | "PUT"                    ; Section 9.6
	                    | "DELETE"                 ; Section 9.7
	                    | "TRACE"                  ; Section 9.8
	                    | "CONNECT"                ; Section 9.9
	                    | extension-method
	   extension-method = token
	     token          = 1*<any CHAR except CTLs or separators>
	*/
	if method == "" || strings.IndexFunc(method, isNotToken) != -1 {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	return nil
}

func isNotToken(r rune) bool {
	return !httpguts.IsTokenRune(r)
}
