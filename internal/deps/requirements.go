package deps

import (
	"geass/internal/config"
	"geass/internal/services/whisperx"
)

// Requirements lists the binaries the transcription pipeline shells out to.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Normalizes uploads to 16 kHz mono WAV before transcription",
		},
		{
			Name:        "uvx",
			Command:     whisperx.UVXCommand,
			Description: "Runs the WhisperX recognizer in an isolated environment",
		},
	}
	if cfg.Transcription.CUDAEnabled {
		reqs = append(reqs, Requirement{
			Name:        "nvidia-smi",
			Command:     "nvidia-smi",
			Description: "Confirms a CUDA device is visible for GPU transcription",
			Optional:    true,
		})
	}
	return reqs
}

// Missing returns the required (non-optional) dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			out = append(out, status)
		}
	}
	return out
}
