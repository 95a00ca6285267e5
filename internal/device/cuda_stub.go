package device

import "fmt"

// NewCudaBackend reports that no CUDA backend is compiled into this build.
// Accelerator kernels for pow are not implemented; the CPU backend covers
// every launch.
func NewCudaBackend() (Backend, error) {
	return nil, fmt.Errorf("%w: cuda", ErrUnsupportedBackend)
}
