package remote

import (
	"strings"
	"testing"
)

func TestReadFrames_DispatchOnBlankLine(t *testing.T) {
	t.Parallel()
	stream := "event: message\ndata: {\"type\":\"status\"}\n\n" +
		"data: {\"type\":\"tool_call\"}\n\n"

	var frames []frame
	err := readFrames(strings.NewReader(stream), func(f frame) {
		frames = append(frames, f)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Event != "message" || frames[0].Data != `{"type":"status"}` {
		t.Errorf("frame 0 = %+v", frames[0])
	}
	if frames[1].Event != "" || frames[1].Data != `{"type":"tool_call"}` {
		t.Errorf("frame 1 = %+v", frames[1])
	}
}

func TestReadFrames_MultiLineData(t *testing.T) {
	t.Parallel()
	stream := "data: line one\ndata: line two\n\n"

	var got frame
	err := readFrames(strings.NewReader(stream), func(f frame) { got = f })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Data != "line one\nline two" {
		t.Errorf("data = %q, want joined lines", got.Data)
	}
}

func TestReadFrames_TrailingFrameWithoutBlankLine(t *testing.T) {
	t.Parallel()
	stream := "event: close\ndata: done"

	var frames []frame
	if err := readFrames(strings.NewReader(stream), func(f frame) {
		frames = append(frames, f)
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (trailing frame dispatched at EOF)", len(frames))
	}
	if frames[0].Event != "close" || frames[0].Data != "done" {
		t.Errorf("frame = %+v", frames[0])
	}
}

func TestReadFrames_IDAndUnknownLines(t *testing.T) {
	t.Parallel()
	stream := "id: 42\n: comment, ignored\nretry: 1000\ndata: x\n\n"

	var got frame
	if err := readFrames(strings.NewReader(stream), func(f frame) { got = f }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "42" {
		t.Errorf("id = %q, want 42", got.ID)
	}
	if got.Data != "x" {
		t.Errorf("data = %q, want x", got.Data)
	}
}

func TestReadFrames_EmptyStream(t *testing.T) {
	t.Parallel()
	called := false
	if err := readFrames(strings.NewReader(""), func(frame) { called = true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("handler called for an empty stream")
	}
}
