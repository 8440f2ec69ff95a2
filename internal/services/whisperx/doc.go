// Package whisperx runs WhisperX through uvx and reads back its JSON output.
//
// Configuration options (model, CUDA, VAD method) are passed via Config.
// Failures are classified with the services markers so the worker pool can
// tell a flaky GPU from a file WhisperX will never decode.
package whisperx
