package videoplayer

import (
	"fmt"

	"github.com/e7canasta/orion-videoplayer/internal/media"
)

// StartRecording copies every subsequent video packet into path without
// re-encoding. The container is chosen by the extension. Only legal while
// Playing; starting while already recording is a no-op.
func (p *VideoPlayer) StartRecording(path string) error {
	if path == "" {
		return fmt.Errorf("videoplayer: recording path is required")
	}
	s := p.playing()
	if s == nil {
		return fmt.Errorf("%w: recording requires a playing stream", ErrWrongState)
	}
	return s.startRecording(path, p.backend)
}

// StopRecording finalizes the current recording. Only legal while Playing.
func (p *VideoPlayer) StopRecording() error {
	s := p.playing()
	if s == nil {
		return fmt.Errorf("%w: recording requires a playing stream", ErrWrongState)
	}
	return s.stopRecording()
}

// IsRecording reports whether a recording is open.
func (p *VideoPlayer) IsRecording() bool {
	s := p.playing()
	if s == nil {
		return false
	}
	on, _ := s.recording()
	return on
}

func (s *session) startRecording(path string, backend media.Backend) error {
	s.recMu.Lock()
	if s.recClosed {
		s.recMu.Unlock()
		return fmt.Errorf("%w: session is shutting down", ErrWrongState)
	}
	if s.remuxer != nil {
		s.recMu.Unlock()
		return nil
	}
	demux := s.currentDemuxer()
	if demux == nil || demux.VideoParams() == nil {
		s.recMu.Unlock()
		return fmt.Errorf("%w: stream not established", ErrWrongState)
	}
	// Teardown waits for recOpens before closing the demuxer, so its
	// parameters stay valid while the remuxer opens without recMu.
	s.recOpens.Add(1)
	s.recMu.Unlock()
	defer s.recOpens.Done()

	r := backend.NewRemuxer()
	if err := r.Open(path, demux.VideoParams(), demux.VideoTimeBase()); err != nil {
		_ = r.Close()
		s.log.Warn("videoplayer: recording start failed", "path", path, "error", err)
		return fmt.Errorf("videoplayer: start recording %s: %w", path, err)
	}

	s.recMu.Lock()
	switch {
	case s.recClosed:
		s.recMu.Unlock()
		_ = r.Close()
		return fmt.Errorf("%w: session is shutting down", ErrWrongState)
	case s.remuxer != nil:
		// A concurrent start won; this one is a no-op.
		s.recMu.Unlock()
		_ = r.Close()
		return nil
	}
	// From here the session owns r; whoever unpublishes it under recMu
	// closes it, after which record can no longer reach it.
	s.remuxer = r
	s.recPath = path
	s.recFailed = false
	s.packetsRecorded.Store(0)
	s.recMu.Unlock()

	s.log.Info("videoplayer: recording started", "path", path)
	return nil
}

func (s *session) stopRecording() error {
	s.recMu.Lock()
	r, path := s.remuxer, s.recPath
	s.remuxer = nil
	s.recPath = ""
	s.recMu.Unlock()

	if r == nil {
		return ErrNotRecording
	}

	err := r.Close()
	s.log.Info("videoplayer: recording stopped",
		"path", path,
		"packets", s.packetsRecorded.Load(),
	)
	if err != nil {
		return fmt.Errorf("videoplayer: finalize recording: %w", err)
	}
	return nil
}

// record forwards pkt to the open recording. Write failures are logged once
// per recording and never interrupt playback.
func (s *session) record(pkt media.Packet, tb media.Rational) {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	if s.remuxer == nil {
		return
	}
	if err := s.remuxer.WritePacket(pkt, tb); err != nil {
		if !s.recFailed {
			s.log.Warn("videoplayer: recording write failed", "path", s.recPath, "error", err)
			s.recFailed = true
		}
		return
	}
	s.packetsRecorded.Add(1)
}

func (s *session) recording() (bool, string) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	return s.remuxer != nil, s.recPath
}
