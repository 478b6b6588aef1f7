// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient returns a client with an overall request deadline.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
