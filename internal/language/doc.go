// Package language normalizes transcription language settings.
//
// WhisperX only accepts ISO 639-1 codes, while operators tend to write
// "english", "eng", or "en". ToISO2 folds all of those into the two-letter
// form; DisplayName renders them back for humans.
package language
