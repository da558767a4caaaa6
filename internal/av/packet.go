package av

import (
	"github.com/asticode/go-astiav"
)

// Packet is the demuxer's staged packet. It is only valid until Release.
type Packet struct {
	pkt      *astiav.Packet
	video    bool
	released bool
}

// IsVideo implements media.Packet.
func (p *Packet) IsVideo() bool { return p.video }

// KeyFrame implements media.Packet.
func (p *Packet) KeyFrame() bool {
	return p.pkt != nil && p.pkt.Flags().Has(astiav.PacketFlagKey)
}

// Pts implements media.Packet.
func (p *Packet) Pts() int64 {
	if p.pkt == nil {
		return 0
	}
	return p.pkt.Pts()
}

// Size implements media.Packet.
func (p *Packet) Size() int {
	if p.pkt == nil {
		return 0
	}
	return p.pkt.Size()
}

// Release unreferences the payload so the demuxer can reuse the packet.
func (p *Packet) Release() {
	if p.released {
		return
	}
	p.released = true
	if p.pkt != nil {
		p.pkt.Unref()
	}
}

// native returns the underlying packet, or nil once released.
func (p *Packet) native() *astiav.Packet {
	if p == nil || p.released {
		return nil
	}
	return p.pkt
}
