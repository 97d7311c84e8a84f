package camera

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/lumenfield/mirrorcal/internal/calib/grid"
)

func detectorStub(t *testing.T, status int, body string, seen *url.Values) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/blob" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if seen != nil {
			*seen = r.URL.Query()
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func TestHTTPClient_DecodesMeasurement(t *testing.T) {
	var query url.Values
	srv := detectorStub(t, http.StatusOK,
		`{"found":true,"x":0.42,"y":0.13,"size":0.09,"response":0.8,"source_width":1920,"source_height":1080}`,
		&query)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, ROI{X: 0.1, Y: 0.2, Width: 0.5, Height: 0.6})
	expected := grid.Position{X: 0.4, Y: 0.1}
	m, err := c.Capture(context.Background(), Params{
		Timeout:     1500 * time.Millisecond,
		Expected:    &expected,
		MaxDistance: 0.08,
	})
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.X != 0.42 || m.Y != 0.13 || m.Size != 0.09 {
		t.Errorf("measurement = %+v", m)
	}
	if m.SourceWidth != 1920 || m.SourceHeight != 1080 {
		t.Errorf("source dims = %dx%d", m.SourceWidth, m.SourceHeight)
	}

	if query.Get("timeout_ms") != "1500" {
		t.Errorf("timeout_ms = %q", query.Get("timeout_ms"))
	}
	if query.Get("roi_x") != "0.1" || query.Get("roi_w") != "0.5" {
		t.Errorf("roi params = %v", query)
	}
	if query.Get("expected_x") != "0.4" || query.Get("max_distance") != "0.08" {
		t.Errorf("expectation params = %v", query)
	}
}

func TestHTTPClient_NoBlobIsNotAnError(t *testing.T) {
	srv := detectorStub(t, http.StatusOK, `{"found":false}`, nil)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, ROI{})
	m, err := c.Capture(context.Background(), Params{})
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("measurement = %+v, want nil", m)
	}
}

func TestHTTPClient_OmitsExpectationParamsWhenUnset(t *testing.T) {
	var query url.Values
	srv := detectorStub(t, http.StatusOK, `{"found":false}`, &query)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, ROI{})
	if _, err := c.Capture(context.Background(), Params{}); err != nil {
		t.Fatal(err)
	}
	if query.Has("expected_x") || query.Has("max_distance") {
		t.Errorf("unexpected expectation params: %v", query)
	}
}

func TestHTTPClient_DetectorFailure(t *testing.T) {
	srv := detectorStub(t, http.StatusInternalServerError, "boom", nil)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, ROI{})
	if _, err := c.Capture(context.Background(), Params{}); err == nil {
		t.Error("expected error for non-200 status")
	}
}

func TestHTTPClient_MalformedBody(t *testing.T) {
	srv := detectorStub(t, http.StatusOK, `{"found":`, nil)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, ROI{})
	if _, err := c.Capture(context.Background(), Params{}); err == nil {
		t.Error("expected decode error")
	}
}
