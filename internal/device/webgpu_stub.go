//go:build !webgpu

package device

import (
	"context"

	"github.com/FlavioCFOliveira/crcheck/internal/params"
)

// WebGPU is a stub for builds without the webgpu tag.
type WebGPU struct{}

func NewWebGPU() *WebGPU {
	return &WebGPU{}
}

func (w *WebGPU) Name() string    { return "webgpu" }
func (w *WebGPU) Kind() Kind      { return GPU }
func (w *WebGPU) Available() bool { return false }

func (w *WebGPU) Open(ctx context.Context, d params.Descriptor, host *Buffers) (Session, error) {
	return nil, ErrUnavailable
}
