// Package httputil provides HTTP helpers shared by the API handlers and the
// outbound service adapters.
package httputil

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NewClient returns an HTTP client with the given timeout and a transport that
// refuses anything below TLS 1.2.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport
	if base, ok := http.DefaultTransport.(*http.Transport); ok {
		cloned := base.Clone()
		if cloned.TLSClientConfig != nil {
			cloned.TLSClientConfig = cloned.TLSClientConfig.Clone()
			if cloned.TLSClientConfig.MinVersion < tls.VersionTLS12 {
				cloned.TLSClientConfig.MinVersion = tls.VersionTLS12
			}
		} else {
			cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		transport = cloned
	}

	return &http.Client{Timeout: timeout, Transport: transport}
}

// ReadAllWithLimit reads up to limit bytes and reports whether the body was
// longer than that.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads the body and fails if it exceeds limit.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return data, nil
}
