package av

import (
	"github.com/asticode/go-astiav"
)

// StreamParams exposes a demuxed stream's codec parameters. The parameters
// belong to the demuxer and are only valid while it is open.
type StreamParams struct {
	cp *astiav.CodecParameters
}

// CodecName implements media.StreamParams.
func (p *StreamParams) CodecName() string { return p.cp.CodecID().Name() }

// Width implements media.StreamParams.
func (p *StreamParams) Width() int { return p.cp.Width() }

// Height implements media.StreamParams.
func (p *StreamParams) Height() int { return p.cp.Height() }
