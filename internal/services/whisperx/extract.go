package whisperx

import (
	"context"
	"fmt"
)

// buildFFmpegArgs converts the first audio stream of source into a mono 16kHz
// PCM WAV file. Uploads may be any container ffmpeg understands, including
// video files.
func buildFFmpegArgs(source, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-map", "0:a:0",
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
}

// NormalizeAudio writes the WhisperX input WAV for source to dest.
func (s *Service) NormalizeAudio(ctx context.Context, source, dest string) error {
	if err := s.run(ctx, s.ffmpegBinary, buildFFmpegArgs(source, dest)...); err != nil {
		return fmt.Errorf("ffmpeg normalize: %w", err)
	}
	return nil
}
