package av

import (
	"fmt"
	"sync"

	"github.com/asticode/go-astiav"
)

// HardwareContext owns an FFmpeg hardware device context shared by the
// decoders of every stream. It implements media.HardwareContext.
type HardwareContext struct {
	typ  astiav.HardwareDeviceType
	name string

	mu  sync.Mutex
	hdc *astiav.HardwareDeviceContext
}

// NewHardwareContext opens a device of the named type ("vaapi", "cuda",
// "qsv", ...). device may be empty to let FFmpeg pick the default node.
func NewHardwareContext(deviceType, device string) (*HardwareContext, error) {
	typ := astiav.FindHardwareDeviceTypeByName(deviceType)
	if typ == astiav.HardwareDeviceTypeNone {
		return nil, fmt.Errorf("unknown hardware device type %q", deviceType)
	}
	hdc, err := astiav.CreateHardwareDeviceContext(typ, device, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("create %s device %q: %w", deviceType, device, err)
	}
	return &HardwareContext{typ: typ, name: deviceType, hdc: hdc}, nil
}

// DeviceType implements media.HardwareContext.
func (h *HardwareContext) DeviceType() string { return h.name }

// Close releases the device. Decoders already bound to it keep their own
// reference.
func (h *HardwareContext) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hdc != nil {
		h.hdc.Free()
		h.hdc = nil
	}
}

func (h *HardwareContext) device() *astiav.HardwareDeviceContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hdc
}
