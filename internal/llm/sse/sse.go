// Package sse decodes chat-completion event streams.
//
// The decoder is driven by raw chunks in whatever sizes the network hands
// them over; line reassembly does not depend on where chunks are cut.
package sse

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kitbuilder587/grok-search-mcp/internal/llm"
)

// MaxContentBytes caps the accumulated text of one stream.
const MaxContentBytes = 10 * 1024 * 1024

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// SplitLines appends chunk to buf and cuts off every complete line.
// Returned lines keep their trailing '\n'; rest holds the unterminated tail.
// buf must not be used by the caller afterwards.
func SplitLines(buf, chunk []byte) (rest []byte, lines [][]byte) {
	buf = append(buf, chunk...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, buf[:i+1])
		buf = buf[i+1:]
	}
	return buf, lines
}

// Accumulator collects delta text from a single streamed response.
// It is not safe for concurrent use.
type Accumulator struct {
	buf       []byte
	text      []byte
	limit     int
	done      bool
	truncated bool
}

func NewAccumulator() *Accumulator {
	return NewAccumulatorWithLimit(MaxContentBytes)
}

func NewAccumulatorWithLimit(limit int) *Accumulator {
	if limit <= 0 {
		limit = MaxContentBytes
	}
	return &Accumulator{limit: limit}
}

// Feed consumes the next chunk. It returns true once the stream is finished,
// either by the [DONE] marker or by hitting the size cap; the caller should
// stop reading then.
func (a *Accumulator) Feed(chunk []byte) bool {
	if a.finished() {
		return true
	}

	var lines [][]byte
	a.buf, lines = SplitLines(a.buf, chunk)
	for _, line := range lines {
		if a.processLine(line) {
			return true
		}
	}
	return false
}

func (a *Accumulator) Text() string    { return string(a.text) }
func (a *Accumulator) Done() bool      { return a.done }
func (a *Accumulator) Truncated() bool { return a.truncated }

func (a *Accumulator) finished() bool {
	return a.done || a.truncated
}

func (a *Accumulator) processLine(raw []byte) bool {
	line := strings.TrimSpace(string(raw))
	if line == "" || strings.HasPrefix(line, ":") {
		return false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return false
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneMarker {
		a.done = true
		return true
	}
	if payload == "" {
		return false
	}

	for _, delta := range decodeDeltas(payload) {
		a.text = append(a.text, delta...)
		if len(a.text) > a.limit {
			a.text = a.text[:a.limit]
			a.truncated = true
			return true
		}
	}
	return false
}

// decodeDeltas pulls choices[].delta.content strings out of one frame.
// Malformed frames and malformed choices yield nothing.
func decodeDeltas(payload string) []string {
	var frame struct {
		Choices []json.RawMessage `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return nil
	}

	var deltas []string
	for _, raw := range frame.Choices {
		var choice llm.StreamChoice
		if err := json.Unmarshal(raw, &choice); err != nil {
			continue
		}
		if choice.Delta.Content != nil {
			deltas = append(deltas, *choice.Delta.Content)
		}
	}
	return deltas
}
