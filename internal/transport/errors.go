// Package transport fetches raw page bodies for the harvester. It wraps a
// Colly collector for plain HTTP fetches and headless Chrome for the single
// rendered pagination probe, and classifies every failure so callers can
// skip the page instead of aborting the run.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failed fetch.
type ErrorKind string

// Fetch error classifications. None of these is fatal to a run: the caller
// logs the URL and continues without a body.
const (
	KindBlocked ErrorKind = "blocked"
	KindHTTP    ErrorKind = "http_error"
	KindNetwork ErrorKind = "network_error"
	KindTimeout ErrorKind = "timeout"
)

// FetchError is the tagged result surfaced for every failed request.
type FetchError struct {
	Kind   ErrorKind
	URL    string
	Status int
	Err    error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	switch e.Kind {
	case KindBlocked:
		return fmt.Sprintf("fetch %s: blocked (403)", e.URL)
	case KindHTTP:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Status)
	case KindTimeout:
		return fmt.Sprintf("fetch %s: timeout: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: network error: %v", e.URL, e.Err)
	}
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *FetchError) Unwrap() error { return e.Err }

// classify builds a FetchError from a transport failure or HTTP status.
func classify(url string, status int, err error) *FetchError {
	if status == 403 {
		return &FetchError{Kind: KindBlocked, URL: url, Status: status, Err: err}
	}
	if status >= 400 {
		return &FetchError{Kind: KindHTTP, URL: url, Status: status, Err: err}
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &FetchError{Kind: KindTimeout, URL: url, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &FetchError{Kind: KindTimeout, URL: url, Err: err}
	default:
		return &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}
}
