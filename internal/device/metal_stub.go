package device

import "fmt"

// NewMetalBackend reports that no Metal backend is compiled into this build.
func NewMetalBackend() (Backend, error) {
	return nil, fmt.Errorf("%w: metal", ErrUnsupportedBackend)
}
