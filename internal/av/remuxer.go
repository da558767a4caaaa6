package av

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/asticode/go-astiav"
	"github.com/e7canasta/orion-videoplayer/internal/media"
)

// Remuxer copies compressed video packets into a container file.
type Remuxer struct {
	log *slog.Logger

	path    string
	oc      *astiav.FormatContext
	pb      *astiav.IOContext
	out     *astiav.Stream
	pkt     *astiav.Packet
	header  bool
	written int64
}

// NewRemuxer returns an unopened remuxer.
func NewRemuxer(log *slog.Logger) *Remuxer {
	if log == nil {
		log = slog.Default()
	}
	return &Remuxer{log: log.With("component", "remuxer")}
}

// Open creates path and writes the container header. The container is
// chosen from the file extension.
func (r *Remuxer) Open(path string, params media.StreamParams, timeBase media.Rational) error {
	if r.oc != nil {
		return errors.New("remuxer already open")
	}
	sp, ok := params.(*StreamParams)
	if !ok || sp == nil || sp.cp == nil {
		return fmt.Errorf("remuxer: %w: stream parameters", ErrNotOpen)
	}

	cf, err := containerFor(path)
	if err != nil {
		return err
	}

	oc, err := astiav.AllocOutputFormatContext(nil, cf.Format, path)
	if err != nil {
		return fmt.Errorf("alloc output %s: %w", cf.Format, err)
	}
	r.oc = oc
	r.path = path

	if err := r.open(sp, timeBase, cf); err != nil {
		r.free()
		return err
	}

	r.pkt = astiav.AllocPacket()
	r.log.Info("remuxer: recording started",
		"path", path,
		"format", cf.Format,
		"codec", sp.CodecName(),
	)
	return nil
}

func (r *Remuxer) open(sp *StreamParams, timeBase media.Rational, cf containerFormat) error {
	pb, err := astiav.OpenIOContext(r.path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
	if err != nil {
		return fmt.Errorf("open %s: %w", r.path, err)
	}
	r.pb = pb
	r.oc.SetPb(pb)

	st := r.oc.NewStream(nil)
	if st == nil {
		return errors.New("remuxer: new stream failed")
	}
	if err := sp.cp.Copy(st.CodecParameters()); err != nil {
		return fmt.Errorf("copy codec parameters: %w", err)
	}
	// Source codec tags are container specific.
	st.CodecParameters().SetCodecTag(0)
	if timeBase.Valid() {
		st.SetTimeBase(toAstiav(timeBase))
	}
	r.out = st

	opts, err := newDictionary(cf.Options)
	if err != nil {
		return err
	}
	defer opts.Free()

	if err := r.oc.WriteHeader(opts); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	r.header = true
	return nil
}

// WritePacket appends a referenced copy of pkt with timestamps rescaled from
// the source time base to the output stream's.
func (r *Remuxer) WritePacket(pkt media.Packet, timeBase media.Rational) error {
	if r.oc == nil || !r.header {
		return ErrNotOpen
	}
	p, ok := pkt.(*Packet)
	if !ok || p.native() == nil {
		return fmt.Errorf("remuxer: %w: packet", ErrNotOpen)
	}

	if err := r.pkt.Ref(p.native()); err != nil {
		return fmt.Errorf("ref packet: %w", err)
	}
	defer r.pkt.Unref()

	if timeBase.Valid() {
		r.pkt.RescaleTs(toAstiav(timeBase), r.out.TimeBase())
	}
	r.pkt.SetStreamIndex(r.out.Index())

	if err := r.oc.WriteInterleavedFrame(r.pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("write packet: %w", err)
	}
	r.written++
	return nil
}

// Close writes the trailer and closes the file. Safe to call more than once.
func (r *Remuxer) Close() error {
	if r.oc == nil {
		return nil
	}

	var err error
	if r.header {
		if werr := r.oc.WriteTrailer(); werr != nil {
			err = fmt.Errorf("write trailer: %w", werr)
		}
	}
	r.log.Info("remuxer: recording finished", "path", r.path, "packets", r.written)
	if ferr := r.free(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

func (r *Remuxer) free() error {
	var err error
	if r.pkt != nil {
		r.pkt.Free()
		r.pkt = nil
	}
	if r.pb != nil {
		if cerr := r.pb.Close(); cerr != nil {
			err = fmt.Errorf("close %s: %w", r.path, cerr)
		}
		r.pb.Free()
		r.pb = nil
	}
	if r.oc != nil {
		r.oc.Free()
		r.oc = nil
	}
	r.out = nil
	r.header = false
	return err
}
