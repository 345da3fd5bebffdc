package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ixlab/vidformer/catalog"
	"github.com/ixlab/vidformer/dve"
	"github.com/ixlab/vidformer/filter"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cat, err := catalog.Open(t.TempDir())
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	ctx := dve.NewContext(nil, filter.NewRegistry(), nil, nil, nil, nil, nil, nil, nil)
	return New(cat, nil, ctx, t.TempDir(), nil)
}

func TestServerRoot(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "vidformer") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestServerSpecPushAndGet(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"frames":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v2/spec", body)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("push spec: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var got struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode push response: %v", err)
	}
	if got.ID == "" {
		t.Fatalf("expected a non-empty spec id")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/v2/spec/"+got.ID, nil)
	rr2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Fatalf("get spec: expected 200, got %d: %s", rr2.Code, rr2.Body.String())
	}
}

func TestServerGetSourceMissing(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v2/source/does-not-exist", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}
