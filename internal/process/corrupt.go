package process

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"mediaflow/internal/pipeline"
)

// ErrMalformed marks a stored document that is not a JSON object at all.
var ErrMalformed = errors.New("malformed process document")

type shape int

const (
	shapeString shape = iota
	shapeArray
)

type checkedField struct {
	path    []string
	want    shape
	element byte // first byte every array element must start with; 0 means any
}

var checkedFields = []checkedField{
	{path: []string{"title"}, want: shapeString},
	{path: []string{"tags"}, want: shapeArray, element: '{'},
	{path: []string{"todoList"}, want: shapeArray, element: '"'},
	{path: []string{"embedding"}, want: shapeArray, element: 'n'},
	{path: []string{"transcript", "fullText"}, want: shapeString},
	{path: []string{"transcript", "segments"}, want: shapeArray, element: '{'},
}

// Repair describes one field rewritten by RepairDocument.
type Repair struct {
	Field  string `json:"field"`
	Action string `json:"action"`
	Before string `json:"before"`
}

// Repair actions.
const (
	RepairRebuilt = "rebuilt"
	RepairCleared = "cleared"
)

// Decode reads a stored document. Fields found in an unexpected shape are
// withheld from the returned record and listed in Process.Corrupt; they are
// never coerced.
func Decode(data []byte) (*Process, error) {
	doc, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	corrupt := detect(doc)
	for _, field := range corrupt {
		setField(doc, field, json.RawMessage("null"))
	}
	cleaned, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	var p Process
	if err := json.Unmarshal(cleaned, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	p.Corrupt = corrupt
	if p.JobLedger == nil {
		p.JobLedger = map[pipeline.Stage][]string{}
	}
	if p.Stages == nil {
		p.Stages = map[pipeline.Stage]*StageState{}
	}
	return &p, nil
}

// Detect lists fields of a stored document whose shape does not match the
// schema, such as a vector persisted as a character-indexed object.
func Detect(data []byte) ([]string, error) {
	doc, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	return detect(doc), nil
}

// RepairDocument rewrites corrupt fields. A field stored as a contiguous
// "0".."n-1" object is rebuilt when the reconstruction passes the same
// validation a normal write would; anything else is cleared so the stage
// result can be reapplied through reconciliation.
func RepairDocument(data []byte, opts pipeline.ValidateOptions) ([]byte, []Repair, error) {
	doc, err := decodeObject(data)
	if err != nil {
		return nil, nil, err
	}
	var repairs []Repair
	for _, field := range checkedFields {
		name := strings.Join(field.path, ".")
		raw, ok := getField(doc, name)
		if !ok || field.matches(raw) {
			continue
		}
		repair := Repair{Field: name, Action: RepairCleared, Before: truncate(string(raw), 256)}
		if rebuilt, ok := rebuildCharIndexed(raw, field.want); ok && field.matches(rebuilt) && validRebuild(name, rebuilt, opts) {
			setField(doc, name, rebuilt)
			repair.Action = RepairRebuilt
		} else {
			setField(doc, name, json.RawMessage("null"))
		}
		repairs = append(repairs, repair)
	}
	if len(repairs) == 0 {
		return data, nil, nil
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, err
	}
	return out, repairs, nil
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: null document", ErrMalformed)
	}
	return doc, nil
}

func detect(doc map[string]json.RawMessage) []string {
	var corrupt []string
	for _, field := range checkedFields {
		name := strings.Join(field.path, ".")
		if raw, ok := getField(doc, name); ok && !field.matches(raw) {
			corrupt = append(corrupt, name)
		}
	}
	return corrupt
}

func (f checkedField) matches(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	switch f.want {
	case shapeString:
		return trimmed[0] == '"'
	case shapeArray:
		if trimmed[0] != '[' {
			return false
		}
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return false
		}
		for _, item := range items {
			if !elementMatches(bytes.TrimSpace(item), f.element) {
				return false
			}
		}
		return true
	}
	return false
}

func elementMatches(item []byte, want byte) bool {
	if len(item) == 0 {
		return false
	}
	switch want {
	case 0:
		return true
	case 'n':
		_, err := strconv.ParseFloat(string(item), 64)
		return err == nil
	default:
		return item[0] == want
	}
}

// rebuildCharIndexed reconstructs a value persisted as {"0": .., "1": ..}.
// Single-character string members are joined back into the original string;
// for array fields that string must itself be a JSON array.
func rebuildCharIndexed(raw json.RawMessage, want shape) (json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) == 0 {
		return nil, false
	}
	values := make([]json.RawMessage, len(obj))
	for key, value := range obj {
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(obj) || strconv.Itoa(i) != key || values[i] != nil {
			return nil, false
		}
		values[i] = value
	}

	var sb strings.Builder
	chars := true
	for _, value := range values {
		var s string
		if err := json.Unmarshal(value, &s); err != nil || utf8.RuneCountInString(s) != 1 {
			chars = false
			break
		}
		sb.WriteString(s)
	}

	switch {
	case chars && want == shapeString:
		out, err := json.Marshal(sb.String())
		return out, err == nil
	case chars && want == shapeArray:
		joined := bytes.TrimSpace([]byte(sb.String()))
		if len(joined) == 0 || joined[0] != '[' || !json.Valid(joined) {
			return nil, false
		}
		return joined, true
	case want == shapeArray:
		out, err := json.Marshal(values)
		return out, err == nil
	}
	return nil, false
}

func validRebuild(name string, raw json.RawMessage, opts pipeline.ValidateOptions) bool {
	switch name {
	case "embedding":
		var vector []float64
		if err := json.Unmarshal(raw, &vector); err != nil {
			return false
		}
		return pipeline.ValidateEmbedding(vector, opts.EmbeddingDimensions) == nil
	case "tags":
		var tags []pipeline.Tag
		if err := json.Unmarshal(raw, &tags); err != nil {
			return false
		}
		r := pipeline.Result{Stage: pipeline.StageGenerateTags, Tags: &pipeline.TagsResult{Tags: tags}}
		return r.Validate(opts) == nil
	case "todoList":
		var items []string
		if err := json.Unmarshal(raw, &items); err != nil {
			return false
		}
		r := pipeline.Result{Stage: pipeline.StageGenerateTodo, Todo: &pipeline.TodoResult{Items: items}}
		return r.Validate(opts) == nil
	case "transcript.segments":
		var segments []TranscriptSegment
		return json.Unmarshal(raw, &segments) == nil
	default:
		var s string
		return json.Unmarshal(raw, &s) == nil
	}
}

func getField(doc map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	head, rest, nested := strings.Cut(name, ".")
	raw, ok := doc[head]
	if !ok {
		return nil, false
	}
	if !nested {
		return raw, true
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(raw, &inner); err != nil || inner == nil {
		return nil, false
	}
	return getField(inner, rest)
}

func setField(doc map[string]json.RawMessage, name string, value json.RawMessage) {
	head, rest, nested := strings.Cut(name, ".")
	if !nested {
		doc[head] = value
		return
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(doc[head], &inner); err != nil || inner == nil {
		return
	}
	setField(inner, rest, value)
	if encoded, err := json.Marshal(inner); err == nil {
		doc[head] = encoded
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
