package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestBar_RendersCountsAndFile(t *testing.T) {
	var buf bytes.Buffer
	b := New(2000, &buf)

	b.SetFile("/data/photos/img.jpg")
	b.Increment()

	out := buf.String()
	if !strings.Contains(out, "(1/2,000)") {
		t.Errorf("Expected humanized counts, got %q", out)
	}
	if !strings.Contains(out, "img.jpg") {
		t.Errorf("Expected current file name, got %q", out)
	}
}

func TestBar_FinishRendersFullAndNewline(t *testing.T) {
	var buf bytes.Buffer
	b := New(3, &buf)
	b.interval = time.Hour

	b.Increment()
	b.Increment()
	b.Increment()
	b.Finish()

	out := buf.String()
	if !strings.Contains(out, "100%") {
		t.Errorf("Expected 100%% after all increments, got %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("Finish should end the line")
	}
}

func TestBar_ZeroTotalIsSilent(t *testing.T) {
	var buf bytes.Buffer
	b := New(0, &buf)

	b.Increment()
	b.Finish()

	if buf.Len() != 0 {
		t.Errorf("Expected no output, got %q", buf.String())
	}
}

func TestBar_SetTotalResets(t *testing.T) {
	var buf bytes.Buffer
	b := New(1, &buf)
	b.Increment()

	b.SetTotal(4)
	buf.Reset()
	b.lastUpdate = time.Time{}
	b.Increment()

	if !strings.Contains(buf.String(), "(1/4)") {
		t.Errorf("Expected reset counter, got %q", buf.String())
	}
}
