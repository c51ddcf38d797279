package utils

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestErrAttr(t *testing.T) {
	t.Parallel()

	err := errors.New("boom")

	attr := ErrAttr(err)
	if attr.Key != "error" {
		t.Errorf("ErrAttr() key = %v, want error", attr.Key)
	}

	if got := attr.Value.Any(); got != err {
		t.Errorf("ErrAttr() value = %v, want %v", got, err)
	}
}

func TestLogWriter_Write(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		wantLogs bool
	}{
		{name: "message with newline", input: "hello\n", wantLogs: true},
		{name: "message without newline", input: "hello", wantLogs: true},
		{name: "empty", input: "", wantLogs: false},
		{name: "only newline", input: "\n", wantLogs: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			writer := NewSlogWriter(slog.New(slog.NewTextHandler(&buf, nil)))

			n, err := writer.Write([]byte(tt.input))
			if err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			if n != len(tt.input) {
				t.Errorf("Write() n = %v, want %v", n, len(tt.input))
			}

			if got := buf.String() != ""; got != tt.wantLogs {
				t.Errorf("Write() logged = %v, want %v", got, tt.wantLogs)
			}
		})
	}
}

func TestLogWriter_MultipleLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writer := NewSlogWriter(slog.New(slog.NewTextHandler(&buf, nil)))

	for _, msg := range []string{"first\n", "second\n"} {
		if _, err := writer.Write([]byte(msg)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	out := buf.String()
	for _, want := range []string{"first", "second"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %v", want, out)
		}
	}
}
