/*
Package videoplayer ingests a network video stream: it demuxes the source,
decodes frames (optionally on the GPU), records selected packets without
re-encoding and produces still-image snapshots.

# Lifecycle

A VideoPlayer has four states:

	Stopped ──Open──▶ Opening ──▶ Playing ──end of stream──▶ Stopped
	                     │            │
	                     └──failure───┴──▶ Error ──Close──▶ Stopped

Close is legal from every state but Stopped and reports Stopped at once.
Open returns immediately; the source is negotiated on a dedicated worker
goroutine which owns every native resource of the session and releases them
on its own exit path, never inside Close.

# Quick start

	backend := av.NewBackend(logger)
	player, err := videoplayer.New(videoplayer.Config{Backend: backend})
	if err != nil {
	    log.Fatal(err)
	}
	player.OnStateChange(func(c videoplayer.StateChange) {
	    log.Printf("%s -> %s (%v)", c.Previous, c.Current, c.Err)
	})

	if err := player.Open("rtsp://camera/stream", videoplayer.StreamOptions{
	    Transport:      videoplayer.TransportTCP,
	    LowLatencyMode: true,
	}); err != nil {
	    log.Fatal(err)
	}

	// Once Playing:
	_ = player.StartRecording("/var/recordings/cam1.mp4")
	img, err := player.Snapshot(ctx)

	player.Close()
	player.Wait(ctx)

# Failure model

Isolated read errors are retried silently; only a run of more than
Config.ReadErrorBudget consecutive failures moves the player to Error. A
stop requested through Close is never reported as an error. Hardware decode
that the codec cannot use degrades to software without notice. Snapshot and
recording failures are local: they return an error to the caller and never
affect the stream.

# Recording containers

The output container is chosen by extension: .mkv/.webm (Matroska),
.mp4/.m4v/.mov (fragmented ISO-BMFF, playable when truncated) and .ts
(MPEG-TS).
*/
package videoplayer
