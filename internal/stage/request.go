package stage

import (
	"encoding/json"
	"fmt"

	"mediaflow/internal/pipeline"
)

// Request is the worker input for one job.
type Request struct {
	JobID         string         `json:"jobId"`
	ProcessID     string         `json:"processId"`
	StageType     pipeline.Stage `json:"stageType"`
	Unit          int            `json:"unit"`
	InputRef      string         `json:"inputRef"`
	OutputRef     string         `json:"outputRef"`
	Options       Options        `json:"options"`
	CorrelationID string         `json:"correlationId"`
}

// Options carries stage-specific inputs derived from the process record.
type Options struct {
	Duration       float64                `json:"duration,omitempty"`
	SourceSize     int64                  `json:"sourceSize,omitempty"`
	Segment        *pipeline.AudioSegment `json:"segment,omitempty"`
	Transcript     string                 `json:"transcript,omitempty"`
	StorageType    string                 `json:"storageType,omitempty"`
	RemoteLocation string                 `json:"remoteLocation,omitempty"`
}

// Encode serializes the request as a queue payload.
func (r Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequest parses a queue payload.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decode stage request: %w", err)
	}
	return req, nil
}
