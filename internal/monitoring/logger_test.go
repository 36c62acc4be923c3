package monitoring

import (
	"fmt"
	"log"
	"testing"
)

func TestSetLoggerCaptures(t *testing.T) {
	defer SetLogger(log.Printf)

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	Logf("retry %d/%d", 1, 4)

	if len(lines) != 1 || lines[0] != "retry 1/4" {
		t.Errorf("unexpected capture: %v", lines)
	}
}

func TestSetLoggerNilMutes(t *testing.T) {
	defer SetLogger(log.Printf)

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)

	Logf("dropped")

	if called {
		t.Error("nil logger should drop output")
	}
}

func TestDefaultLoggerNonNil(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf must never be nil")
	}
}
