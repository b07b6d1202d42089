package dispatcher

// buildFFmpegArgs constructs the argument list for a pure remux relay: copy
// codecs, no transcode, matching the teacher's "off" stream mode in
// buildFFmpegMPEGTSCodecArgs (internal/tuner/gateway.go) — re-muxing HLS into
// MPEG-TS is explicitly in scope (§9 design notes); transcoding content is
// not (spec §1 Non-goals).
func buildFFmpegArgs(streamURL string) []string {
	return []string{
		"-loglevel", "error",
		"-re",
		"-i", streamURL,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-f", "mpegts",
		"-mpegts_flags", "+resend_headers+pat_pmt_at_frames",
		"pipe:1",
	}
}
