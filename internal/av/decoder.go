package av

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/asticode/go-astiav"
	"github.com/e7canasta/orion-videoplayer/internal/media"
)

// Decoder wraps a libavcodec decoding context.
type Decoder struct {
	log *slog.Logger

	cc       *astiav.CodecContext
	hwPixFmt astiav.PixelFormat
	// hw is set when a device context is bound; hwActive reflects the
	// format the decoder actually negotiated, which can fall back later.
	hw         bool
	negotiated atomic.Bool
	hwActive   atomic.Bool
	maxH       int
	scaler     downscaler
	info       media.DecoderInfo
}

// NewDecoder returns an unopened decoder.
func NewDecoder(log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{log: log.With("component", "decoder")}
}

// Open binds the decoder to the stream parameters. A hardware context that
// cannot serve the codec is ignored and decoding falls back to software.
func (d *Decoder) Open(params media.StreamParams, opts media.DecoderOptions) error {
	if d.cc != nil {
		return errors.New("decoder already open")
	}
	sp, ok := params.(*StreamParams)
	if !ok || sp == nil || sp.cp == nil {
		return fmt.Errorf("decoder: %w: stream parameters", ErrNotOpen)
	}

	codec := astiav.FindDecoder(sp.cp.CodecID())
	if codec == nil {
		return fmt.Errorf("%w: %s", ErrDecoderNotFound, sp.CodecName())
	}

	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return errors.New("decoder: alloc codec context failed")
	}
	if err := sp.cp.ToCodecContext(cc); err != nil {
		cc.Free()
		return fmt.Errorf("copy codec parameters: %w", err)
	}

	if opts.ThreadCount > 0 {
		cc.SetThreadCount(opts.ThreadCount)
	} else {
		cc.SetThreadCount(0)
	}

	if opts.Hardware != nil {
		d.bindHardware(codec, cc, opts.Hardware)
	}

	dict, err := newDictionary(decoderOptions(opts))
	if err != nil {
		cc.Free()
		return err
	}
	defer dict.Free()

	if err := cc.Open(codec, dict); err != nil {
		cc.Free()
		return fmt.Errorf("open decoder %s: %w", codec.Name(), err)
	}

	d.cc = cc
	d.maxH = opts.MaxVerticalResolution
	d.info = media.DecoderInfo{
		CodecName:           codec.Name(),
		PixelFormat:         cc.PixelFormat().String(),
		Width:               cc.Width(),
		Height:              cc.Height(),
		HardwareAccelerated: d.hw,
	}

	d.log.Info("decoder: opened",
		"codec", d.info.CodecName,
		"pixel_format", d.info.PixelFormat,
		"resolution", fmt.Sprintf("%dx%d", d.info.Width, d.info.Height),
		"threads", opts.ThreadCount,
		"hardware", d.hw,
	)
	return nil
}

func (d *Decoder) bindHardware(codec *astiav.Codec, cc *astiav.CodecContext, h media.HardwareContext) {
	hc, ok := h.(*HardwareContext)
	var hdc *astiav.HardwareDeviceContext
	if ok && hc != nil {
		hdc = hc.device()
	}
	if hdc == nil {
		d.log.Warn("decoder: hardware context not usable, decoding in software",
			"device_type", h.DeviceType())
		return
	}

	for _, cfg := range codec.HardwareConfigs() {
		if !cfg.MethodFlags().Has(astiav.CodecHardwareConfigMethodFlagHwDeviceCtx) {
			continue
		}
		if cfg.HardwareDeviceType() != hc.typ {
			continue
		}

		d.hwPixFmt = cfg.PixelFormat()
		cc.SetHardwareDeviceContext(hdc)
		cc.SetPixelFormatCallback(d.negotiate)
		d.hw = true
		return
	}

	d.log.Warn("decoder: codec has no hardware config for device, decoding in software",
		"codec", codec.Name(),
		"device_type", hc.DeviceType(),
	)
}

// negotiate is the get_format callback. It takes the bound hardware format
// when offered, otherwise the first software format.
func (d *Decoder) negotiate(pfs []astiav.PixelFormat) astiav.PixelFormat {
	names := make([]string, len(pfs))
	for i, pf := range pfs {
		names[i] = pf.String()
	}
	i, hw := choosePixelFormat(names, d.hwPixFmt.String())
	d.negotiated.Store(true)
	d.hwActive.Store(hw)
	if i < 0 {
		d.log.Warn("decoder: no usable pixel format offered", "offered", names)
		return astiav.PixelFormatNone
	}
	if !hw {
		d.log.Warn("decoder: hardware pixel format rejected, using software",
			"wanted", d.hwPixFmt.String(),
			"using", names[i],
		)
	}
	return pfs[i]
}

// choosePixelFormat returns the index of want in offered, or else of the
// first software format; -1 when every offered format is a hardware one.
func choosePixelFormat(offered []string, want string) (int, bool) {
	for i, name := range offered {
		if name == want {
			return i, true
		}
	}
	for i, name := range offered {
		if !hardwarePixelFormats[name] {
			return i, false
		}
	}
	return -1, false
}

// hardwarePixelFormats are FFmpeg pixel formats that only describe GPU
// surfaces.
var hardwarePixelFormats = map[string]bool{
	"vaapi":            true,
	"vdpau":            true,
	"cuda":             true,
	"qsv":              true,
	"videotoolbox_vld": true,
	"d3d11":            true,
	"d3d11va_vld":      true,
	"d3d12":            true,
	"dxva2_vld":        true,
	"drm_prime":        true,
	"vulkan":           true,
	"opencl":           true,
	"mediacodec":       true,
	"mmal":             true,
}

// SendPacket implements media.Decoder.
func (d *Decoder) SendPacket(pkt media.Packet) bool {
	if d.cc == nil {
		return false
	}
	p, ok := pkt.(*Packet)
	if !ok || p.native() == nil {
		return false
	}
	if err := d.cc.SendPacket(p.native()); err != nil {
		d.log.Debug("decoder: packet rejected", "error", err)
		return false
	}
	return true
}

// ReceiveFrame implements media.Decoder. Frames taller than the configured
// vertical limit are downscaled in software, keeping the aspect ratio.
func (d *Decoder) ReceiveFrame() (media.Frame, bool) {
	if d.cc == nil {
		return nil, false
	}

	f := astiav.AllocFrame()
	if err := d.cc.ReceiveFrame(f); err != nil {
		f.Free()
		if !errors.Is(err, astiav.ErrEagain) && !errors.Is(err, astiav.ErrEof) {
			d.log.Debug("decoder: receive frame failed", "error", err)
		}
		return nil, false
	}

	hw := d.hwActive.Load() && f.PixelFormat() == d.hwPixFmt
	if hw || d.maxH <= 0 || f.Height() <= d.maxH {
		return newFrame(f, hw), true
	}

	scaled, err := d.scaler.scale(f, d.maxH)
	f.Free()
	if err != nil {
		d.log.Warn("decoder: downscale failed", "error", err)
		return nil, false
	}
	return newFrame(scaled, false), true
}

// Info implements media.Decoder. Before the first frame the hardware flag
// reports the binding; afterwards it reports the negotiated format.
func (d *Decoder) Info() media.DecoderInfo {
	info := d.info
	if d.negotiated.Load() {
		info.HardwareAccelerated = d.hwActive.Load()
	}
	return info
}

// Close frees the codec context. Safe to call more than once.
func (d *Decoder) Close() error {
	d.scaler.close()
	if d.cc != nil {
		d.cc.Free()
		d.cc = nil
		d.log.Debug("decoder: closed")
	}
	return nil
}

// downscaler reuses one swscale context while the source geometry is stable.
type downscaler struct {
	ssc        *astiav.SoftwareScaleContext
	srcW, srcH int
	srcPix     astiav.PixelFormat
	dstW, dstH int
}

func (s *downscaler) close() {
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
}

func (s *downscaler) ensure(src *astiav.Frame, maxH int) error {
	sw, sh, sp := src.Width(), src.Height(), src.PixelFormat()
	if s.ssc != nil && sw == s.srcW && sh == s.srcH && sp == s.srcPix {
		return nil
	}
	s.close()

	dw, dh := fitHeight(sw, sh, maxH)
	ssc, err := astiav.CreateSoftwareScaleContext(sw, sh, sp, dw, dh, sp,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear))
	if err != nil {
		return fmt.Errorf("create scale context %dx%d -> %dx%d: %w", sw, sh, dw, dh, err)
	}
	s.ssc = ssc
	s.srcW, s.srcH, s.srcPix = sw, sh, sp
	s.dstW, s.dstH = dw, dh
	return nil
}

func (s *downscaler) scale(src *astiav.Frame, maxH int) (*astiav.Frame, error) {
	if err := s.ensure(src, maxH); err != nil {
		return nil, err
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(s.dstW)
	dst.SetHeight(s.dstH)
	dst.SetPixelFormat(s.srcPix)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		return nil, fmt.Errorf("alloc scaled frame: %w", err)
	}
	if err := s.ssc.ScaleFrame(src, dst); err != nil {
		dst.Free()
		return nil, fmt.Errorf("scale frame: %w", err)
	}
	dst.SetPts(src.Pts())
	return dst, nil
}

// fitHeight returns the size that fits h under maxH with the same aspect
// ratio. Dimensions are kept even for chroma-subsampled formats.
func fitHeight(w, h, maxH int) (int, int) {
	if maxH <= 0 || h <= maxH || h == 0 {
		return w, h
	}
	dh := maxH &^ 1
	dw := (w*dh/h + 1) &^ 1
	if dw < 2 {
		dw = 2
	}
	if dh < 2 {
		dh = 2
	}
	return dw, dh
}
