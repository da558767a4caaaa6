package av

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/asticode/go-astiav"
	"github.com/e7canasta/orion-videoplayer/internal/media"
)

// FrameCapture encodes single frames to JPEG with the MJPEG encoder.
// It never takes ownership of the frames it is given.
type FrameCapture struct {
	log *slog.Logger
	// qmax bounds the quantizer; lower is better quality.
	qmax int
}

// NewFrameCapture returns a JPEG frame encoder.
func NewFrameCapture(log *slog.Logger) *FrameCapture {
	if log == nil {
		log = slog.Default()
	}
	return &FrameCapture{log: log.With("component", "frame-capture"), qmax: 4}
}

// CaptureFrame implements media.FrameCapturer. It returns nil on failure.
func (c *FrameCapture) CaptureFrame(frame media.Frame) []byte {
	if frame == nil {
		return nil
	}
	img, err := c.encode(frame)
	if err != nil {
		c.log.Warn("frame-capture: encode failed", "error", err,
			"resolution", fmt.Sprintf("%dx%d", frame.Width(), frame.Height()))
		return nil
	}
	return img
}

func (c *FrameCapture) encode(frame media.Frame) ([]byte, error) {
	src, free, err := softwareFrame(frame)
	if err != nil {
		return nil, err
	}
	if free {
		defer src.Free()
	}

	yuv, err := convert(src, astiav.PixelFormatYuvj420P)
	if err != nil {
		return nil, err
	}
	defer yuv.Free()

	codec := astiav.FindEncoder(astiav.CodecIDMjpeg)
	if codec == nil {
		return nil, fmt.Errorf("%w: mjpeg encoder", ErrDecoderNotFound)
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("alloc mjpeg context failed")
	}
	defer cc.Free()

	cc.SetWidth(yuv.Width())
	cc.SetHeight(yuv.Height())
	cc.SetPixelFormat(astiav.PixelFormatYuvj420P)
	cc.SetTimeBase(astiav.NewRational(1, 25))

	opts, err := newDictionary(map[string]string{
		"qmin": "1",
		"qmax": fmt.Sprint(c.qmax),
	})
	if err != nil {
		return nil, err
	}
	defer opts.Free()

	if err := cc.Open(codec, opts); err != nil {
		return nil, fmt.Errorf("open mjpeg encoder: %w", err)
	}

	if err := cc.SendFrame(yuv); err != nil {
		return nil, fmt.Errorf("send frame: %w", err)
	}
	// Flush so intra-only encoders emit immediately.
	if err := cc.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return nil, fmt.Errorf("flush encoder: %w", err)
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	if err := cc.ReceivePacket(pkt); err != nil {
		return nil, fmt.Errorf("receive packet: %w", err)
	}
	defer pkt.Unref()

	data := pkt.Data()
	if len(data) == 0 {
		return nil, errors.New("empty jpeg packet")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// RawI420 downloads and converts frame to tightly packed planar YUV 4:2:0.
func RawI420(frame media.Frame) (width, height int, data []byte, err error) {
	src, free, err := softwareFrame(frame)
	if err != nil {
		return 0, 0, nil, err
	}
	if free {
		defer src.Free()
	}

	yuv, err := convert(src, astiav.PixelFormatYuv420P)
	if err != nil {
		return 0, 0, nil, err
	}
	defer yuv.Free()

	n, err := yuv.ImageBufferSize(1)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("image buffer size: %w", err)
	}
	data = make([]byte, n)
	if _, err := yuv.ImageCopyToBuffer(data, 1); err != nil {
		return 0, 0, nil, fmt.Errorf("copy image: %w", err)
	}
	return yuv.Width(), yuv.Height(), data, nil
}

// convert returns a new frame in pixel format pf with the source geometry.
// The caller frees the result.
func convert(src *astiav.Frame, pf astiav.PixelFormat) (*astiav.Frame, error) {
	w, h := src.Width(), src.Height()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", w, h)
	}

	ssc, err := astiav.CreateSoftwareScaleContext(w, h, src.PixelFormat(), w, h, pf,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear))
	if err != nil {
		return nil, fmt.Errorf("create scale context %s -> %s: %w", src.PixelFormat(), pf, err)
	}
	defer ssc.Free()

	dst := astiav.AllocFrame()
	dst.SetWidth(w)
	dst.SetHeight(h)
	dst.SetPixelFormat(pf)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		return nil, fmt.Errorf("alloc frame buffer: %w", err)
	}
	if err := ssc.ScaleFrame(src, dst); err != nil {
		dst.Free()
		return nil, fmt.Errorf("scale frame: %w", err)
	}
	dst.SetPts(src.Pts())
	return dst, nil
}
