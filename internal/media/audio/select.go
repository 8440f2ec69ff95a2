package audio

import (
	"slices"
	"strconv"
	"strings"

	"mediaflow/internal/language"
	"mediaflow/internal/media/ffprobe"
)

// Selection names the audio stream to extract for transcription.
type Selection struct {
	Stream ffprobe.Stream
	// Ordinal is the position among audio streams, as used by ffmpeg's
	// "0:a:N" stream specifier.
	Ordinal int
	// Language is the stream's ISO 639-1 code, empty when untagged.
	Language string
}

// Label returns a short human-readable summary of the stream.
func (s Selection) Label() string {
	parts := []string{strings.ToLower(strings.TrimSpace(s.Stream.CodecName))}
	if s.Stream.Channels > 0 {
		parts = append(parts, channelLabel(s.Stream.Channels))
	}
	if s.Language != "" {
		parts = append(parts, s.Language)
	}
	return strings.Join(parts, " ")
}

// Select picks the stream whose speech is most useful to transcribe. Streams
// in the preferred language win, then the default-flagged stream, then the
// one closest to stereo (commentary and surround mixes transcribe worse
// than the main stereo mix). ok is false when there is no audio at all.
func Select(streams []ffprobe.Stream, preferred string) (Selection, bool) {
	var candidates []Selection
	for _, stream := range streams {
		if !strings.EqualFold(stream.CodecType, "audio") {
			continue
		}
		candidates = append(candidates, Selection{
			Stream:   stream,
			Ordinal:  len(candidates),
			Language: language.FromTags(stream.Tags),
		})
	}
	if len(candidates) == 0 {
		return Selection{}, false
	}
	best := slices.MinFunc(candidates, func(a, b Selection) int {
		return score(a, preferred) - score(b, preferred)
	})
	return best, true
}

// score ranks a candidate; lower is better.
func score(s Selection, preferred string) int {
	total := s.Ordinal
	if preferred != "" && !language.Matches(s.Language, preferred) {
		total += 1000
	}
	if s.Stream.Disposition.Default == 0 {
		total += 100
	}
	switch {
	case s.Stream.Channels == 2:
	case s.Stream.Channels == 1:
		total += 10
	default:
		total += 20
	}
	return total
}

func channelLabel(channels int) string {
	switch channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	case 6:
		return "5.1"
	case 8:
		return "7.1"
	default:
		return strconv.Itoa(channels) + "ch"
	}
}
