// Package whisperx runs the WhisperX speech recognizer through uvx and adapts
// it to the transcription.Transcriber contract.
//
// Each call normalizes the uploaded audio to 16kHz mono WAV with ffmpeg in a
// private scratch directory, invokes WhisperX with JSON output, and converts
// the resulting segments into a transcript. Configuration options (model,
// CUDA, VAD method, language) are passed via Config.
package whisperx
