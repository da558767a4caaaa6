package av

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/e7canasta/orion-videoplayer/internal/media"
)

const (
	// defaultOpenTimeout bounds connect/read on unreachable sources (fail fast).
	defaultOpenTimeout = 5 * time.Second

	// defaultBufferSize is the UDP/RTSP socket receive buffer in bytes.
	defaultBufferSize = 1 << 20
)

// demuxOptions builds the libavformat options for a network source.
func demuxOptions(uri string, opts media.DemuxOptions) map[string]string {
	m := map[string]string{
		"buffer_size": strconv.Itoa(defaultBufferSize),
	}

	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}
	m["timeout"] = microseconds(timeout)

	if isRTSP(uri) {
		switch strings.ToLower(opts.Transport) {
		case "udp":
			m["rtsp_transport"] = "udp"
		case "tcp":
			m["rtsp_transport"] = "tcp"
			m["rtsp_flags"] = "prefer_tcp"
		}
	}

	if opts.BufferDuration > 0 {
		m["max_delay"] = microseconds(opts.BufferDuration)
	}

	if opts.LowLatency {
		m["fflags"] = "+nobuffer+discardcorrupt"
		m["flags"] = "+low_delay"
		m["reorder_queue_size"] = "0"
		if _, ok := m["max_delay"]; !ok {
			m["max_delay"] = "0"
		}
	}

	return m
}

// decoderOptions builds the libavcodec options applied at decoder open.
func decoderOptions(opts media.DecoderOptions) map[string]string {
	m := map[string]string{}
	if opts.LowDelay {
		m["flags"] = "+low_delay"
	}
	return m
}

// containerFormat describes the output container chosen for a recording path.
type containerFormat struct {
	Format  string
	Options map[string]string
}

// containerFor selects the output container from the file extension.
//
// Matroska and MPEG-TS carry every payload bit-exact. ISO-BMFF is written
// as self-describing fragments so a truncated file stays playable.
func containerFor(path string) (containerFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mkv", ".webm":
		return containerFormat{Format: "matroska"}, nil
	case ".mp4", ".m4v":
		return containerFormat{
			Format: "mp4",
			Options: map[string]string{
				"movflags": "frag_keyframe+empty_moov+default_base_moof",
			},
		}, nil
	case ".mov":
		return containerFormat{
			Format: "mov",
			Options: map[string]string{
				"movflags": "frag_keyframe+empty_moov+default_base_moof",
			},
		}, nil
	case ".ts":
		return containerFormat{Format: "mpegts"}, nil
	default:
		return containerFormat{}, fmt.Errorf("%w: %q", ErrUnsupportedContainer, filepath.Ext(path))
	}
}

// newDictionary converts an options map into an astiav dictionary.
// The caller owns the result and must Free it.
func newDictionary(m map[string]string) (*astiav.Dictionary, error) {
	d := astiav.NewDictionary()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := d.Set(k, m[k], 0); err != nil {
			d.Free()
			return nil, fmt.Errorf("set option %s=%s: %w", k, m[k], err)
		}
	}
	return d, nil
}

func isRTSP(uri string) bool {
	u := strings.ToLower(uri)
	return strings.HasPrefix(u, "rtsp://") || strings.HasPrefix(u, "rtsps://")
}

func microseconds(d time.Duration) string {
	return strconv.FormatInt(d.Microseconds(), 10)
}
