package auth

import (
	"io"

	"github.com/pkg/browser"
)

// Browser opens a URL for the operator.
type Browser interface {
	Open(url string) error
}

// SystemBrowser launches the platform's default browser.
type SystemBrowser struct{}

// Open launches the default browser without letting it write to the console.
func (SystemBrowser) Open(url string) error {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return browser.OpenURL(url)
}
