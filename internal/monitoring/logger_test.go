package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op logger
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestWithPrefix(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	logf := WithPrefix("serial")

	// The prefixed logger resolves Logf lazily.
	SetLogger(func(format string, v ...interface{}) { got = fmt.Sprintf(format, v...) })
	logf("skipped line %d", 3)

	if got != "serial: skipped line 3" {
		t.Errorf("got %q, want %q", got, "serial: skipped line 3")
	}
}
