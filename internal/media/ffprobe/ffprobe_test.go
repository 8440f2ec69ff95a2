package ffprobe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const sample = `{
	"streams": [
		{"index": 0, "codec_type": "video", "codec_name": "mjpeg", "width": 600, "height": 600},
		{"index": 1, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
		{"index": 2, "codec_type": "audio", "codec_name": "aac", "channels": 2, "tags": {"language": "eng"}, "disposition": {"default": 1}},
		{"index": 3, "codec_type": "audio", "codec_name": "ac3", "channels": 6, "tags": {"language": "fra"}},
		{"index": 4, "codec_type": "subtitle", "codec_name": "subrip"}
	],
	"format": {"duration": "61.5", "size": "2048"}
}`

func TestParseSelectsStreams(t *testing.T) {
	result, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	video, ok := result.PrimaryVideo()
	if !ok || video.Index != 1 || video.Height != 1080 {
		t.Fatalf("expected stream 1 as primary video, got %+v ok=%v", video, ok)
	}
	audio := result.AudioStreams()
	if len(audio) != 2 || audio[0].Tags["language"] != "eng" || audio[0].Disposition.Default != 1 {
		t.Fatalf("unexpected audio streams %+v", audio)
	}
	if result.DurationSeconds() != 61.5 || result.SizeBytes() != 2048 {
		t.Fatalf("unexpected format values: %v %d", result.DurationSeconds(), result.SizeBytes())
	}
}

func TestFormatValuesFallBackToZero(t *testing.T) {
	for _, format := range []Format{
		{Duration: "N/A", Size: "-1"},
		{Duration: "", Size: ""},
		{Duration: "-3", Size: "big"},
	} {
		result := Result{Format: format}
		if got := result.DurationSeconds(); got != 0 {
			t.Fatalf("duration for %+v = %v, want 0", format, got)
		}
		if got := result.SizeBytes(); got != 0 {
			t.Fatalf("size for %+v = %d, want 0", format, got)
		}
	}
}

func TestPrimaryVideoMissing(t *testing.T) {
	result := Result{Streams: []Stream{{CodecType: "audio"}, {CodecType: "video", CodecName: "mjpeg", Width: 500}}}
	if _, ok := result.PrimaryVideo(); ok {
		t.Fatal("expected no primary video for audio plus cover art")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestProberRunsBinary(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-ffprobe")
	body := "#!/bin/sh\ncat <<'JSON'\n" + sample + "\nJSON\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	result, err := NewProber(script)(context.Background(), "/media/movie.mkv")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if len(result.Streams) != 5 {
		t.Fatalf("expected 5 streams, got %d", len(result.Streams))
	}
	if _, err := NewProber(script)(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
