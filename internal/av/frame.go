package av

import (
	"fmt"
	"sync/atomic"

	"github.com/asticode/go-astiav"
	"github.com/e7canasta/orion-videoplayer/internal/media"
)

// Frame is an owned reference to a decoded AVFrame.
type Frame struct {
	f        *astiav.Frame
	hw       bool
	released atomic.Bool
}

func newFrame(f *astiav.Frame, hw bool) *Frame {
	return &Frame{f: f, hw: hw}
}

// Width implements media.Frame.
func (f *Frame) Width() int { return f.f.Width() }

// Height implements media.Frame.
func (f *Frame) Height() int { return f.f.Height() }

// PixelFormat implements media.Frame.
func (f *Frame) PixelFormat() string { return f.f.PixelFormat().String() }

// Pts implements media.Frame.
func (f *Frame) Pts() int64 { return f.f.Pts() }

// HardwareBacked implements media.Frame.
func (f *Frame) HardwareBacked() bool { return f.hw }

// Clone adds a reference to the underlying buffers.
func (f *Frame) Clone() (media.Frame, error) {
	if f.released.Load() {
		return nil, fmt.Errorf("clone frame: %w", ErrNotOpen)
	}
	c := astiav.AllocFrame()
	if err := c.Ref(f.f); err != nil {
		c.Free()
		return nil, fmt.Errorf("clone frame: %w", err)
	}
	return newFrame(c, f.hw), nil
}

// Release drops this reference. Only the first call has effect.
func (f *Frame) Release() {
	if f.released.CompareAndSwap(false, true) {
		f.f.Free()
	}
}

// nativeFrame extracts the AVFrame behind a media.Frame produced by this package.
func nativeFrame(frame media.Frame) (*astiav.Frame, bool) {
	f, ok := frame.(*Frame)
	if !ok || f.released.Load() {
		return nil, false
	}
	return f.f, true
}

// softwareFrame returns a frame in system memory. For hardware-backed frames
// the data is downloaded into a new frame which the caller must free; free
// reports whether that is needed.
func softwareFrame(frame media.Frame) (sw *astiav.Frame, free bool, err error) {
	src, ok := nativeFrame(frame)
	if !ok {
		return nil, false, fmt.Errorf("foreign or released frame: %w", ErrNotOpen)
	}
	if !frame.HardwareBacked() {
		return src, false, nil
	}

	dst := astiav.AllocFrame()
	if err := src.TransferHardwareData(dst); err != nil {
		dst.Free()
		return nil, false, fmt.Errorf("transfer hardware frame: %w", err)
	}
	dst.SetPts(src.Pts())
	return dst, true, nil
}
