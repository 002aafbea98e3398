// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"fmt"
	"net/http"
	urlpkg "net/url"
)

// ResolveLocation resolves the value of a Location header against the
// URL of the response that carried it, and returns the absolute
// redirect target.
func ResolveLocation(current, location string) (string, error) {
	base, err := urlpkg.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := urlpkg.Parse(location)
	if err != nil {
		return "", fmt.Errorf("asynchttp/request: bad Location %q: %w", location, err)
	}
	target := base.ResolveReference(ref)
	if target.Fragment == "" && ref.Fragment == "" && base.Fragment != "" {
		// RFC 7231 section 7.1.2: a redirect without a fragment
		// inherits the fragment of the original URL.
		target.Fragment = base.Fragment
	}
	return target.String(), nil
}

// IsRedirect reports whether statusCode is in the 3XX class.
func IsRedirect(statusCode int) bool {
	return statusCode >= 300 && statusCode <= 399
}

// RedirectMethod returns the method to use when following a redirect
// of the given status code from a request made with method, and whether
// the request body must be sent again.
//
// A 303 See Other turns every method except HEAD into a body-less GET.
// A 301 or 302 turns POST into a body-less GET, matching what browsers
// do. Every other redirect keeps the method and the body.
func RedirectMethod(method string, statusCode int) (string, bool) {
	switch {
	case statusCode == http.StatusSeeOther && method != http.MethodHead:
		return http.MethodGet, false
	case (statusCode == http.StatusMovedPermanently || statusCode == http.StatusFound) && method == http.MethodPost:
		return http.MethodGet, false
	default:
		return method, true
	}
}
