package annotator

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/location"
	"github.com/hazyhaar/pinpoint/observability"
	"github.com/hazyhaar/pinpoint/shield"
)

func newTestServer(t *testing.T, o sessionOpts, maxBody int64) (*Session, *httptest.Server) {
	t.Helper()
	s := newTestSession(t, o)
	srv := httptest.NewServer(Handler(s, maxBody))
	t.Cleanup(srv.Close)
	return s, srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, b
}

func TestHTTP_Health(t *testing.T) {
	s, srv := newTestServer(t, sessionOpts{}, 0)
	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get(shield.RequestIDHeader) == "" {
		t.Error("request id header missing")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if !strings.Contains(string(body), s.ID()) {
		t.Errorf("body: %s", body)
	}
}

func TestHTTP_AnnotationLifecycle(t *testing.T) {
	_, srv := newTestServer(t, sessionOpts{store: true}, 1<<20)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/annotations", `{"point":{"x":150,"y":125},"label":"check"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	var c Capture
	if err := json.Unmarshal(body, &c); err != nil {
		t.Fatal(err)
	}
	if c.Record.ID != "ann-1" || c.Record.CustomLabel != "check" {
		t.Errorf("created: %+v", c.Record.Annotation)
	}

	q := url.Values{"location": {`{"chart":"sales"}`}, "committed": {"false"}}
	resp, body = do(t, http.MethodGet, srv.URL+"/v1/annotations?"+q.Encode(), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}
	var list ListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Annotations) != 1 {
		t.Errorf("listed %d", len(list.Annotations))
	}

	steps := []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/v1/annotations/ann-1/commit", http.StatusOK},
		{http.MethodPost, "/v1/annotations/ann-1/commit", http.StatusConflict},
		{http.MethodPost, "/v1/annotations/nope/commit", http.StatusNotFound},
		{http.MethodPost, "/v1/annotations/ann-1/click", http.StatusNoContent},
		{http.MethodDelete, "/v1/annotations/ann-1", http.StatusNoContent},
		{http.MethodDelete, "/v1/annotations/ann-1", http.StatusNotFound},
	}
	for _, st := range steps {
		resp, body := do(t, st.method, srv.URL+st.path, "")
		if resp.StatusCode != st.want {
			t.Errorf("%s %s: %d, want %d (%s)", st.method, st.path, resp.StatusCode, st.want, body)
		}
	}
}

func TestHTTP_Errors(t *testing.T) {
	_, srv := newTestServer(t, sessionOpts{}, 64)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"bad json", http.MethodPost, "/v1/positions", `{`, http.StatusBadRequest},
		{"too large", http.MethodPost, "/v1/positions", `{"annotations":[` + strings.Repeat(" ", 100) + `]}`, http.StatusRequestEntityTooLarge},
		{"invalid annotation", http.MethodPost, "/v1/positions", `{"annotations":[{"id":"a"}]}`, http.StatusBadRequest},
		{"empty decode", http.MethodPost, "/v1/coordinates/decode", `{"value":""}`, http.StatusBadRequest},
		{"garbage decode", http.MethodPost, "/v1/coordinates/decode", `{"value":"%%%"}`, http.StatusBadRequest},
		{"no screenshotter", http.MethodPost, "/v1/screenshots", `{}`, http.StatusNotImplemented},
		{"bad limit", http.MethodGet, "/v1/annotations?limit=-1", ``, http.StatusBadRequest},
		{"bad location", http.MethodGet, "/v1/annotations?location=%5B1%5D", ``, http.StatusBadRequest},
		{"commit without store", http.MethodPost, "/v1/annotations/x/commit", ``, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, srv.URL+tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status %d, want %d (%s)", resp.StatusCode, tt.want, body)
			}
			var e map[string]string
			if err := json.Unmarshal(body, &e); err != nil || e["error"] == "" {
				t.Errorf("error body: %s", body)
			}
		})
	}
}

func TestHTTP_ResolveAndCoordinates(t *testing.T) {
	_, srv := newTestServer(t, sessionOpts{}, 1<<20)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/positions",
		`{"annotations":[{"id":"a","location":{"page":"/dash","chart":"sales"},"coords_relative_to_target":{"x":0.5,"y":0.5}},{"id":"b","location":{"page":"/dash","chart":"gone"}}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: %d %s", resp.StatusCode, body)
	}
	var rr ResolveResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		t.Fatal(err)
	}
	if len(rr.Positions) != 2 {
		t.Fatalf("positions: %+v", rr.Positions)
	}
	a := rr.Positions[0]
	if a.AnnotationID != "a" || a.Match != location.MatchExact || a.Document == nil || *a.Document != (dom.Point{X: 200, Y: 150}) {
		t.Errorf("a: %+v", a)
	}
	if rr.Positions[1].AnnotationID != "b" || rr.Positions[1].Match == location.MatchExact {
		t.Errorf("b: %+v", rr.Positions[1])
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/coordinates/encode", `{"x":150,"y":125}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("encode: %d %s", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodPost, srv.URL+"/v1/coordinates/decode", string(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decode: %d %s", resp.StatusCode, body)
	}
	var p dom.Point
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatal(err)
	}
	if abs(p.X-150) > 0.01 || abs(p.Y-125) > 0.01 {
		t.Errorf("decoded %+v", p)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/redraw", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("redraw: %d", resp.StatusCode)
	}
}

func TestHTTP_AuditTrail(t *testing.T) {
	s, srv := newTestServer(t, sessionOpts{store: true, observe: true}, 1<<20)
	resp, body := do(t, http.MethodPost, srv.URL+"/v1/annotations", `{"point":{"x":150,"y":125}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	requestID := resp.Header.Get(shield.RequestIDHeader)
	do(t, http.MethodPost, srv.URL+"/v1/annotations/ann-1/commit", "")
	s.audit.Close()

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/audit?annotation_id=ann-1&operation=annotation_create", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit: %d %s", resp.StatusCode, body)
	}
	var out struct {
		Entries []observability.AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Entries) != 1 {
		t.Fatalf("entries: %s", body)
	}
	if out.Entries[0].RequestID != requestID {
		t.Errorf("request id %q, want %q", out.Entries[0].RequestID, requestID)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/audit?limit=-1", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: %d", resp.StatusCode)
	}
}
