package repositories

import (
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry[string]()

	calls := 0
	r.Register("echo", func() (string, error) {
		calls++
		return "echo-backend", nil
	})
	r.Register("broken", func() (string, error) {
		return "", errors.New("missing api key")
	})

	got, err := r.Get("echo")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "echo-backend" {
		t.Errorf("Expected echo-backend, got %s", got)
	}

	if _, err := r.Get("echo"); err != nil {
		t.Fatalf("Second Get failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected constructor to run once, ran %d times", calls)
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Expected ErrUnknownProvider, got %v", err)
	}

	if _, err := r.Get("broken"); err == nil {
		t.Error("Expected constructor error to be returned")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "broken" || names[1] != "echo" {
		t.Errorf("Expected sorted names [broken echo], got %v", names)
	}

	if !r.Has("echo") || r.Has("missing") {
		t.Error("Has should reflect registered names")
	}
}

func TestToolResultResponse(t *testing.T) {
	if got := (ToolResult{Err: "boom"}).Response(); got["error"] != "boom" {
		t.Errorf("Expected error response, got %v", got)
	}

	if got := (ToolResult{}).Response(); got == nil || len(got) != 0 {
		t.Errorf("Expected empty map, got %v", got)
	}

	out := map[string]any{"time": "now"}
	if got := (ToolResult{Output: out}).Response(); got["time"] != "now" {
		t.Errorf("Expected output map, got %v", got)
	}
}

func TestAttachmentIsImage(t *testing.T) {
	if !(Attachment{MimeType: "image/png"}).IsImage() {
		t.Error("image/png should be an image")
	}
	if (Attachment{MimeType: "text/plain"}).IsImage() {
		t.Error("text/plain should not be an image")
	}
}
