// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"errors"
	"fmt"
	"io"
)

// ErrBodyType is returned by BodyBytes for a body of unsupported type.
var ErrBodyType = errors.New("asynchttp/request: body must be nil, string, []byte, io.Reader or io.ReadCloser")

// BodyBytes flattens an in-memory request body into a byte slice.
//
// A nil body gives a nil slice. A []byte is returned as is, without
// copying, and a string is converted. A reader is read to the end and
// then closed if it is an io.Closer; it is closed even when reading
// fails, and the read error takes precedence over the close error.
// Any other type gives an error wrapping ErrBodyType.
func BodyBytes(body interface{}) ([]byte, error) {
	switch x := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case io.Reader:
		return readAll(x)
	default:
		return nil, fmt.Errorf("%w: got %T", ErrBodyType, body)
	}
}

func readAll(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(r)
	if c, ok := r.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}
