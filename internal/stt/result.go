package stt

import (
	"github.com/goccy/go-json"
)

// ResultKind tags a Result.
type ResultKind int

const (
	ResultText ResultKind = iota
	ResultError
)

func (k ResultKind) String() string {
	if k == ResultError {
		return "error"
	}
	return "text"
}

// Result is one item drained from the recognizer queue.
type Result struct {
	Kind ResultKind
	Text string
}

// String renders the result the way it is shown to users.
func (r Result) String() string {
	if r.Kind == ResultError {
		return "[ERROR] " + r.Text
	}
	return r.Text
}

type record struct {
	Text  *string `json:"text"`
	Error *string `json:"error"`
}

// decodeRecord turns a queued decoder record into a Result. Payloads that
// are not JSON, or carry neither field, are passed through verbatim.
func decodeRecord(raw string) Result {
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Result{Kind: ResultText, Text: raw}
	}
	switch {
	case rec.Text != nil:
		return Result{Kind: ResultText, Text: *rec.Text}
	case rec.Error != nil:
		return Result{Kind: ResultError, Text: *rec.Error}
	default:
		return Result{Kind: ResultText, Text: raw}
	}
}

func errorRecord(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return msg
	}
	return string(data)
}

func hasText(raw string) bool {
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return false
	}
	return rec.Text != nil && *rec.Text != ""
}
