package monitor

import (
	"testing"
)

func TestRecord_ResponseBodyOnlyForErrorsAndCreation(t *testing.T) {
	cases := []struct {
		status   int
		captured bool
	}{
		{200, false},
		{201, true},
		{204, false},
		{400, true},
		{403, true},
		{500, true},
	}
	for _, tc := range cases {
		sink := newCaptureSink()
		a := testAuditLogger(t, sink, nil)
		req := &Request{Method: "POST", Path: "/api/v2/notes", Headers: map[string]string{}, RemoteIP: "203.0.113.10"}
		resp := &Response{Status: tc.status, Body: []byte(`{"detail":"something"}`)}

		a.Record(req, resp, &SecurityContext{}, "v2", 10, nil, 70, 90)
		entry := sink.wait(t)

		got := entry.ResponseBody != ""
		if got != tc.captured {
			t.Errorf("status %d: response body captured=%v, want %v", tc.status, got, tc.captured)
		}
	}
}
