// Package audio implements the extract-audio and segment-audio stages.
//
// Extraction picks the most useful speech track from the original upload and
// writes a 16 kHz mono WAV. Segmentation splits that WAV into fixed-length
// transcription units, or keeps it whole when it is short enough to
// transcribe in one pass.
package audio
