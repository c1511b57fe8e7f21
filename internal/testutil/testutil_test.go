package testutil

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)
}

func TestAssertError(t *testing.T) {
	t.Parallel()

	AssertError(t, errors.New("boom"))
}

func TestAssertNear(t *testing.T) {
	t.Parallel()

	AssertNear(t, "value", 1.0005, 1, 1e-3)
	AssertNear(t, "value", -2, -2, 0)
}

func TestAssertVecNear(t *testing.T) {
	t.Parallel()

	AssertVecNear(t, r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{X: 1, Y: 2, Z: 3.0001}, 1e-3)
}

func TestTempDBPath(t *testing.T) {
	t.Parallel()

	p := TempDBPath(t, "capture.db")
	if filepath.Base(p) != "capture.db" {
		t.Errorf("base = %q, want capture.db", filepath.Base(p))
	}
	if !filepath.IsAbs(p) {
		t.Errorf("path %q is not absolute", p)
	}
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest(http.MethodGet, "/debug/device")
	if req.Method != http.MethodGet {
		t.Errorf("method = %s, want GET", req.Method)
	}
	if !strings.HasSuffix(req.URL.Path, "/device") {
		t.Errorf("path = %s", req.URL.Path)
	}
}

func TestNewTestRecorder(t *testing.T) {
	t.Parallel()

	rec := NewTestRecorder()
	rec.WriteHeader(http.StatusTeapot)
	AssertStatusCode(t, rec.Code, http.StatusTeapot)
}
