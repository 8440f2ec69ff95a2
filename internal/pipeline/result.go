package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Result is the tagged success payload a worker reports for one stage job.
// Exactly one payload field matching Stage is set.
type Result struct {
	Stage      Stage              `json:"stage"`
	Video      *VideoResult       `json:"video,omitempty"`
	Audio      *AudioResult       `json:"audio,omitempty"`
	Segments   *SegmentsResult    `json:"segments,omitempty"`
	Transcript *SegmentTranscript `json:"transcript,omitempty"`
	Tags       *TagsResult        `json:"tags,omitempty"`
	Title      *TitleResult       `json:"title,omitempty"`
	Todo       *TodoResult        `json:"todo,omitempty"`
	Embedding  *EmbeddingResult   `json:"embedding,omitempty"`
	Upload     *UploadResult      `json:"upload,omitempty"`
	Finalize   *FinalizeResult    `json:"finalize,omitempty"`
}

// VideoResult describes the processed video artifact.
type VideoResult struct {
	Path       string  `json:"path"`
	Size       int64   `json:"size"`
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Action     string  `json:"action"`
	Encoder    string  `json:"encoder,omitempty"`
	Quality    int     `json:"quality,omitempty"`
	Decision   string  `json:"decision,omitempty"`
	SourceSize int64   `json:"sourceSize"`
}

// Compression actions recorded on VideoResult.
const (
	VideoActionCopy      = "copy"
	VideoActionTranscode = "transcode"
)

// AudioResult describes the extracted audio track.
type AudioResult struct {
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration"`
}

// AudioSegment is one transcription unit.
type AudioSegment struct {
	Index int     `json:"index"`
	Path  string  `json:"path"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SegmentsResult lists the audio segments in index order.
type SegmentsResult struct {
	Segments []AudioSegment `json:"segments"`
}

// SegmentTranscript is the transcription of one audio segment.
type SegmentTranscript struct {
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Tag is a weighted content label.
type Tag struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// TagsResult carries generated tags.
type TagsResult struct {
	Tags []Tag `json:"tags"`
}

// TitleResult carries the generated title.
type TitleResult struct {
	Title string `json:"title"`
}

// TodoResult carries the generated task list.
type TodoResult struct {
	Items []string `json:"items"`
}

// EmbeddingResult carries the transcript embedding vector.
type EmbeddingResult struct {
	Vector []float64 `json:"vector"`
}

// UploadResult records where the processed file was archived.
type UploadResult struct {
	StorageType    string `json:"storageType"`
	RemoteLocation string `json:"remoteLocation,omitempty"`
	Path           string `json:"path"`
}

// FinalizeResult records the verified final artifact.
type FinalizeResult struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Storage types recorded on UploadResult and the process files section.
const (
	StorageLocal  = "local"
	StorageRemote = "remote"
)

// ValidateOptions carries the shape constraints checked at the coordinator boundary.
type ValidateOptions struct {
	EmbeddingDimensions int
}

// ErrInvalidResult marks a result whose shape does not match its stage.
var ErrInvalidResult = errors.New("invalid stage result")

// DecodeResult strictly decodes a stored result. Unknown fields and
// mis-shaped values (a vector stored as an object, for instance) are rejected
// rather than coerced.
func DecodeResult(data []byte) (Result, error) {
	var r Result
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	return r, nil
}

// Encode serializes the result for the queue result store.
func (r Result) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Validate checks that exactly the payload matching Stage is present and
// well-formed.
func (r Result) Validate(opts ValidateOptions) error {
	set := 0
	for _, present := range []bool{
		r.Video != nil, r.Audio != nil, r.Segments != nil, r.Transcript != nil,
		r.Tags != nil, r.Title != nil, r.Todo != nil, r.Embedding != nil,
		r.Upload != nil, r.Finalize != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return invalid(r.Stage, "expected exactly one payload, found %d", set)
	}

	switch r.Stage {
	case StageCompressVideo:
		if r.Video == nil {
			return invalid(r.Stage, "missing video payload")
		}
		return r.Video.validate()
	case StageExtractAudio:
		if r.Audio == nil {
			return invalid(r.Stage, "missing audio payload")
		}
		return r.Audio.validate()
	case StageSegmentAudio:
		if r.Segments == nil {
			return invalid(r.Stage, "missing segments payload")
		}
		return r.Segments.validate()
	case StageTranscribeSegment:
		if r.Transcript == nil {
			return invalid(r.Stage, "missing transcript payload")
		}
		return r.Transcript.validate()
	case StageGenerateTags:
		if r.Tags == nil {
			return invalid(r.Stage, "missing tags payload")
		}
		return r.Tags.validate()
	case StageGenerateTitle:
		if r.Title == nil || strings.TrimSpace(r.Title.Title) == "" {
			return invalid(r.Stage, "title must be non-empty")
		}
		return nil
	case StageGenerateTodo:
		if r.Todo == nil {
			return invalid(r.Stage, "missing todo payload")
		}
		return r.Todo.validate()
	case StageGenerateEmbedding:
		if r.Embedding == nil {
			return invalid(r.Stage, "missing embedding payload")
		}
		return ValidateEmbedding(r.Embedding.Vector, opts.EmbeddingDimensions)
	case StageUploadRemote:
		if r.Upload == nil {
			return invalid(r.Stage, "missing upload payload")
		}
		return r.Upload.validate()
	case StageFinalize:
		if r.Finalize == nil || strings.TrimSpace(r.Finalize.Path) == "" {
			return invalid(r.Stage, "finalize path must be set")
		}
		return nil
	default:
		return invalid(r.Stage, "unknown stage")
	}
}

// ValidateEmbedding checks length and that every component is a finite number.
func ValidateEmbedding(vector []float64, dims int) error {
	if len(vector) == 0 {
		return invalid(StageGenerateEmbedding, "embedding is empty")
	}
	if dims > 0 && len(vector) != dims {
		return invalid(StageGenerateEmbedding, "embedding has %d dimensions, want %d", len(vector), dims)
	}
	for i, v := range vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid(StageGenerateEmbedding, "embedding component %d is not finite", i)
		}
	}
	return nil
}

func (v *VideoResult) validate() error {
	if strings.TrimSpace(v.Path) == "" {
		return invalid(StageCompressVideo, "path must be set")
	}
	if v.Size <= 0 {
		return invalid(StageCompressVideo, "size must be positive")
	}
	if v.Action != VideoActionCopy && v.Action != VideoActionTranscode {
		return invalid(StageCompressVideo, "unknown action %q", v.Action)
	}
	return nil
}

func (a *AudioResult) validate() error {
	if strings.TrimSpace(a.Path) == "" {
		return invalid(StageExtractAudio, "path must be set")
	}
	if a.Duration <= 0 {
		return invalid(StageExtractAudio, "duration must be positive")
	}
	return nil
}

func (s *SegmentsResult) validate() error {
	if len(s.Segments) == 0 {
		return invalid(StageSegmentAudio, "segment list is empty")
	}
	for i, seg := range s.Segments {
		if seg.Index != i {
			return invalid(StageSegmentAudio, "segment %d has index %d", i, seg.Index)
		}
		if strings.TrimSpace(seg.Path) == "" {
			return invalid(StageSegmentAudio, "segment %d path must be set", i)
		}
		if seg.End <= seg.Start {
			return invalid(StageSegmentAudio, "segment %d has non-positive duration", i)
		}
	}
	return nil
}

func (t *SegmentTranscript) validate() error {
	if t.Index < 0 {
		return invalid(StageTranscribeSegment, "index must be >= 0")
	}
	if t.End < t.Start {
		return invalid(StageTranscribeSegment, "end precedes start")
	}
	return nil
}

func (t *TagsResult) validate() error {
	if len(t.Tags) == 0 {
		return invalid(StageGenerateTags, "tag list is empty")
	}
	for i, tag := range t.Tags {
		if strings.TrimSpace(tag.Name) == "" {
			return invalid(StageGenerateTags, "tag %d has empty name", i)
		}
		if math.IsNaN(tag.Weight) || math.IsInf(tag.Weight, 0) || tag.Weight < 0 {
			return invalid(StageGenerateTags, "tag %q has invalid weight", tag.Name)
		}
	}
	return nil
}

func (t *TodoResult) validate() error {
	if len(t.Items) == 0 {
		return invalid(StageGenerateTodo, "todo list is empty")
	}
	for i, item := range t.Items {
		if strings.TrimSpace(item) == "" {
			return invalid(StageGenerateTodo, "todo item %d is empty", i)
		}
	}
	return nil
}

func (u *UploadResult) validate() error {
	switch u.StorageType {
	case StorageLocal:
	case StorageRemote:
		if strings.TrimSpace(u.RemoteLocation) == "" {
			return invalid(StageUploadRemote, "remote storage requires a location")
		}
	default:
		return invalid(StageUploadRemote, "unknown storage type %q", u.StorageType)
	}
	if strings.TrimSpace(u.Path) == "" {
		return invalid(StageUploadRemote, "path must be set")
	}
	return nil
}

func invalid(stage Stage, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidResult, stage, fmt.Sprintf(format, args...))
}
