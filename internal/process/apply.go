package process

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mediaflow/internal/pipeline"
)

// Apply writes a validated stage result into the record. The result must
// already have passed pipeline.Result.Validate; Apply enforces the
// write-once and normalization rules that depend on current record state.
func (p *Process) Apply(result pipeline.Result, opts pipeline.ValidateOptions) error {
	if err := result.Validate(opts); err != nil {
		return err
	}
	switch result.Stage {
	case pipeline.StageCompressVideo:
		v := result.Video
		p.Files.Processed.Path = v.Path
		p.Files.Processed.Size = v.Size
		if p.Files.Original.Size == 0 {
			p.Files.Original.Size = v.SourceSize
		}
		if p.Files.Original.Duration == 0 {
			p.Files.Original.Duration = v.Duration
		}
		if p.Files.Original.Resolution == "" && v.Width > 0 && v.Height > 0 {
			p.Files.Original.Resolution = fmt.Sprintf("%dx%d", v.Width, v.Height)
		}
	case pipeline.StageExtractAudio:
		p.Files.Audio = &AudioFile{Path: result.Audio.Path, Duration: result.Audio.Duration}
	case pipeline.StageSegmentAudio:
		p.Files.Segments = slices.Clone(result.Segments.Segments)
	case pipeline.StageTranscribeSegment:
		p.applyTranscript(*result.Transcript)
	case pipeline.StageGenerateTags:
		p.Tags = NormalizeTags(result.Tags.Tags)
	case pipeline.StageGenerateTitle:
		p.Title = strings.TrimSpace(result.Title.Title)
	case pipeline.StageGenerateTodo:
		items := make([]string, 0, len(result.Todo.Items))
		for _, item := range result.Todo.Items {
			items = append(items, strings.TrimSpace(item))
		}
		p.TodoList = items
	case pipeline.StageGenerateEmbedding:
		if len(p.Embedding) > 0 {
			return ErrEmbeddingAlreadySet
		}
		p.Embedding = slices.Clone(result.Embedding.Vector)
	case pipeline.StageUploadRemote:
		u := result.Upload
		p.Files.Processed.StorageType = u.StorageType
		p.Files.Processed.RemoteLocation = u.RemoteLocation
		p.Files.Processed.Path = u.Path
	case pipeline.StageFinalize:
		p.Files.Processed.Path = result.Finalize.Path
		p.Files.Processed.Size = result.Finalize.Size
	}
	return nil
}

func (p *Process) applyTranscript(seg pipeline.SegmentTranscript) {
	entry := TranscriptSegment{Index: seg.Index, Text: strings.TrimSpace(seg.Text), StartTime: seg.Start, EndTime: seg.End}
	idx := slices.IndexFunc(p.Transcript.Segments, func(s TranscriptSegment) bool { return s.Index == seg.Index })
	if idx >= 0 {
		p.Transcript.Segments[idx] = entry
	} else {
		p.Transcript.Segments = append(p.Transcript.Segments, entry)
	}
	slices.SortFunc(p.Transcript.Segments, func(a, b TranscriptSegment) int { return a.Index - b.Index })
	if expected := len(p.Files.Segments); expected > 0 && len(p.Transcript.Segments) == expected {
		p.Transcript.FullText = p.TranscriptText()
	}
}

// HasResult reports whether the record already holds the output of a stage
// job. unit selects the segment for fan-out stages.
func (p *Process) HasResult(stage pipeline.Stage, unit int) bool {
	switch stage {
	case pipeline.StageCompressVideo:
		return p.StageSucceeded(stage) || (p.Files.Processed.Path != "" && p.Files.Processed.Size > 0)
	case pipeline.StageExtractAudio:
		return p.Files.Audio != nil && p.Files.Audio.Path != ""
	case pipeline.StageSegmentAudio:
		return len(p.Files.Segments) > 0
	case pipeline.StageTranscribeSegment:
		return slices.ContainsFunc(p.Transcript.Segments, func(s TranscriptSegment) bool { return s.Index == unit })
	case pipeline.StageGenerateTags:
		return len(p.Tags) > 0
	case pipeline.StageGenerateTitle:
		return strings.TrimSpace(p.Title) != ""
	case pipeline.StageGenerateTodo:
		return len(p.TodoList) > 0
	case pipeline.StageGenerateEmbedding:
		return len(p.Embedding) > 0
	case pipeline.StageUploadRemote, pipeline.StageFinalize:
		return p.StageSucceeded(stage)
	default:
		return false
	}
}

// NormalizeTags lowercases names with Unicode-aware folding, trims
// whitespace and merges duplicates, keeping the highest weight and first
// occurrence order.
func NormalizeTags(tags []pipeline.Tag) []pipeline.Tag {
	caser := cases.Lower(language.Und)
	out := make([]pipeline.Tag, 0, len(tags))
	index := make(map[string]int, len(tags))
	for _, tag := range tags {
		name := strings.Join(strings.Fields(caser.String(tag.Name)), " ")
		if name == "" {
			continue
		}
		if i, ok := index[name]; ok {
			if tag.Weight > out[i].Weight {
				out[i].Weight = tag.Weight
			}
			continue
		}
		index[name] = len(out)
		out = append(out, pipeline.Tag{Name: name, Weight: tag.Weight})
	}
	return out
}
