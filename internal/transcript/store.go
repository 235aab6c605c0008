// Package transcript accumulates streamed transcription fragments into per-turn entries
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Event is a live notification: a fragment as it streams in, or a committed entry.
type Event struct {
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	Committed bool    `json:"committed"`
}

// Entry is one completed turn for one speaker.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
}

// Store interface for transcript operations.
type Store interface {
	AddInput(fragment string)
	AddOutput(fragment string)
	CommitTurn() []Entry
	Entries() []Entry
	Events() <-chan Event
}

// Accumulator buffers input and output fragments for the current turn and
// appends them to an append-only log when the turn completes.
type Accumulator struct {
	mu       sync.RWMutex
	input    strings.Builder
	output   strings.Builder
	entries  []Entry
	eventsCh chan Event
	now      func() time.Time
}

// NewAccumulator creates an accumulator whose event channel holds eventBuffer events.
func NewAccumulator(eventBuffer int) *Accumulator {
	return &Accumulator{
		eventsCh: make(chan Event, eventBuffer),
		now:      time.Now,
	}
}

// AddInput appends a user transcription fragment to the current turn.
func (a *Accumulator) AddInput(fragment string) {
	a.add(&a.input, SpeakerUser, fragment)
}

// AddOutput appends a model transcription fragment to the current turn.
func (a *Accumulator) AddOutput(fragment string) {
	a.add(&a.output, SpeakerModel, fragment)
}

func (a *Accumulator) add(buf *strings.Builder, speaker Speaker, fragment string) {
	if fragment == "" {
		return
	}
	a.mu.Lock()
	buf.WriteString(fragment)
	a.mu.Unlock()
	a.Emit(Event{Speaker: speaker, Text: fragment})
}

// CommitTurn appends the trimmed, non-empty input then output buffers as
// entries, resets both and returns what was appended.
func (a *Accumulator) CommitTurn() []Entry {
	a.mu.Lock()
	ts := a.now()
	var added []Entry
	for _, p := range []struct {
		buf     *strings.Builder
		speaker Speaker
	}{{&a.input, SpeakerUser}, {&a.output, SpeakerModel}} {
		if text := strings.TrimSpace(p.buf.String()); text != "" {
			added = append(added, Entry{Timestamp: ts, Speaker: p.speaker, Text: text})
		}
		p.buf.Reset()
	}
	a.entries = append(a.entries, added...)
	a.mu.Unlock()

	for _, e := range added {
		a.Emit(Event{Speaker: e.Speaker, Text: e.Text, Committed: true})
	}
	return added
}

// Pending returns the uncommitted input and output text of the current turn.
func (a *Accumulator) Pending() (input, output string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.input.String(), a.output.String()
}

// Reset discards pending fragments and the log.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.Reset()
	a.output.Reset()
	a.entries = nil
}

// Entries returns a copy of the committed log.
func (a *Accumulator) Entries() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	result := make([]Entry, len(a.entries))
	copy(result, a.entries)
	return result
}

// Text renders the log as "SPEAKER: text" lines.
func (a *Accumulator) Text() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	parts := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		parts = append(parts, strings.ToUpper(string(e.Speaker))+": "+e.Text)
	}
	return strings.Join(parts, "\n")
}

// Events returns the channel for transcript events.
func (a *Accumulator) Events() <-chan Event {
	return a.eventsCh
}

// Emit sends a transcript event (non-blocking).
func (a *Accumulator) Emit(event Event) {
	select {
	case a.eventsCh <- event:
	default:
	}
}
