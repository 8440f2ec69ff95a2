// Package audio chooses which audio stream of a media file to extract for
// transcription, preferring the configured language, the default-flagged
// stream and a stereo mix.
package audio
