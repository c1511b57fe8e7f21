package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...any) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("opened device %d", 0)
	if got != "opened device 0" {
		t.Errorf("got %q", got)
	}

	got = ""
	SetLogger(nil)
	Logf("muted")
	if got != "" {
		t.Errorf("no-op logger forwarded %q", got)
	}
}

func TestTagged(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	logf := Tagged("device")

	var got string
	SetLogger(func(format string, v ...any) {
		got = fmt.Sprintf(format, v...)
	})
	logf("started %s", "cameras")

	if want := "[device] started cameras"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
	Logf("test message: %s", "value")
}
