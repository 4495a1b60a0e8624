package core

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogRingBuffer_ParsesJSONLines(t *testing.T) {
	b := NewLogRingBuffer(10)
	b.Write([]byte(`{"level":"warn","component":"api_monitor","message":"high risk request"}` + "\n"))

	entries := b.GetEntries(10)
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	e := entries[0]
	if e.Level != "warn" || e.Component != "api_monitor" || e.Message != "high risk request" {
		t.Errorf("parsed entry = %+v", e)
	}
	if e.Raw == "" {
		t.Error("raw line should be preserved")
	}
}

func TestLogRingBuffer_PlainTextFallsBack(t *testing.T) {
	b := NewLogRingBuffer(10)
	b.Write([]byte("not json at all\n"))

	entries := b.GetEntries(10)
	if len(entries) != 1 || entries[0].Message != "not json at all" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestLogRingBuffer_WrapsAndOrders(t *testing.T) {
	b := NewLogRingBuffer(5)
	for i := 0; i < 8; i++ {
		b.Write([]byte(fmt.Sprintf(`{"message":"line-%d"}`, i)))
	}

	entries := b.GetEntries(100)
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
	// Oldest surviving entry first.
	if entries[0].Message != "line-3" || entries[4].Message != "line-7" {
		t.Errorf("order wrong: first=%q last=%q", entries[0].Message, entries[4].Message)
	}

	if got := b.GetEntries(2); len(got) != 2 || got[1].Message != "line-7" {
		t.Errorf("partial fetch wrong: %+v", got)
	}
}

func TestLogRingBuffer_AsZerologSink(t *testing.T) {
	b := NewLogRingBuffer(10)
	var side bytes.Buffer
	logger := zerolog.New(b.MultiWriter(&side)).With().Timestamp().Logger()

	logger.Info().Str("component", "test_runner").Msg("suite done")

	entries := b.GetEntries(10)
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Component != "test_runner" || entries[0].Message != "suite done" {
		t.Errorf("entry = %+v", entries[0])
	}
	if side.Len() == 0 {
		t.Error("multiwriter did not reach the secondary writer")
	}
}
