package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"annotd/internal/annotate"
	"annotd/internal/appmeta"
	"annotd/internal/params"
	"annotd/internal/vram"
	"annotd/pkg/types"
)

type mockService struct {
	meta   *appmeta.Metadata
	out    *annotate.Output
	err    error
	gotIn  params.Input
	gotDoc *types.Document
}

func (m *mockService) Metadata() *appmeta.Metadata       { return m.meta }
func (m *mockService) DeviceName(context.Context) string { return "Fake GPU" }
func (m *mockService) Annotate(ctx context.Context, doc *types.Document, in params.Input) (*annotate.Output, error) {
	m.gotIn, m.gotDoc = in, doc
	if m.err != nil {
		return nil, m.err
	}
	if m.out != nil {
		return m.out, nil
	}
	return &annotate.Output{Document: doc, Status: annotate.StatusOK}, nil
}

func testMeta() *appmeta.Metadata {
	return &appmeta.Metadata{
		Name:        "Test App",
		Description: "annotates things",
		Identifier:  "http://apps.example.org/test-app/v1",
		AppVersion:  "v1",
		License:     "MIT",
		URL:         "https://example.org/test-app",
		Output:      []appmeta.IOType{{Type: "http://vocab.example.org/TimeFrame/v1"}},
		Parameters: []params.Parameter{
			{Name: "mode", Type: params.TypeString},
			{Name: "verbose", Type: params.TypeBoolean, Default: false},
		},
	}
}

const emptyDoc = `{"documents":[],"views":[]}`

func TestMetadataHandler(t *testing.T) {
	svc := &mockService{meta: testMeta()}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var got appmeta.Metadata
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if got.Identifier != "http://apps.example.org/test-app/v1" || len(got.Parameters) != 2 {
		t.Fatalf("unexpected metadata: %+v", got)
	}
	if strings.Contains(w.Body.String(), "\n  ") {
		t.Fatalf("expected compact output")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?pretty=true", nil))
	if !strings.Contains(w.Body.String(), "\n  ") {
		t.Fatalf("expected indented output, got %q", w.Body.String())
	}
}

func TestAnnotateHandler_PassesQueryAsRawParams(t *testing.T) {
	svc := &mockService{meta: testMeta()}
	r := NewMux(svc)
	for _, method := range []string{http.MethodPost, http.MethodPut} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, "/?mode=fast&tag=a&tag=b", strings.NewReader(emptyDoc)))
		if w.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", method, w.Code, w.Body.String())
		}
		raw, ok := svc.gotIn.(params.RawParams)
		if !ok {
			t.Fatalf("expected RawParams, got %T", svc.gotIn)
		}
		if raw["mode"][0] != "fast" || len(raw["tag"]) != 2 {
			t.Fatalf("unexpected raw params: %v", raw)
		}
		if svc.gotDoc == nil || svc.gotDoc.Views == nil {
			t.Fatalf("document not parsed")
		}
	}
}

func TestAnnotateHandler_InvalidBody(t *testing.T) {
	r := NewMux(&mockService{meta: testMeta()})
	for _, body := range []string{"", "{", "[1,2]"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d", body, w.Code)
		}
		var er types.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || er.Code != 400 || !strings.Contains(er.Error, "invalid document") {
			t.Fatalf("body %q: unexpected error payload %q", body, w.Body.String())
		}
	}
}

func TestAnnotateHandler_BodyTooLarge(t *testing.T) {
	SetMaxBodyBytes(16)
	defer SetMaxBodyBytes(0)
	r := NewMux(&mockService{meta: testMeta()})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(emptyDoc+strings.Repeat(" ", 64))))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestAnnotateHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"missing", &params.MissingError{Param: "mode"}, http.StatusBadRequest},
		{"choice", &params.ChoiceError{Param: "m", Value: params.Int(4)}, http.StatusBadRequest},
		{"not found", annotate.ErrNotFound("d1", "/data/a.wav"), http.StatusNotFound},
		{"vram", &vram.InsufficientError{Required: 2 << 30, Available: 1 << 30}, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := NewMux(&mockService{meta: testMeta(), err: c.err})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(emptyDoc)))
			if w.Code != c.want {
				t.Fatalf("status=%d want %d", w.Code, c.want)
			}
			var er types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
				t.Fatalf("json: %v", err)
			}
			if er.Code != c.want || er.Error != c.err.Error() {
				t.Fatalf("unexpected payload: %+v", er)
			}
		})
	}
}

func TestAnnotateHandler_InternalStatusKeepsDocument(t *testing.T) {
	doc := &types.Document{Documents: []types.SourceDocument{}, Views: []*types.View{{
		ID:       "v_0",
		Metadata: types.ViewMetadata{Error: &types.ViewError{Message: "boom", StackTrace: "trace"}},
	}}}
	r := NewMux(&mockService{meta: testMeta(), out: &annotate.Output{Document: doc, Status: annotate.StatusInternal}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(emptyDoc)))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	got, err := types.ParseDocument(w.Body.Bytes())
	if err != nil {
		t.Fatalf("body is not a document: %v", err)
	}
	if got.Views[0].Metadata.Error == nil || got.Views[0].Metadata.Error.Message != "boom" {
		t.Fatalf("error view missing: %s", w.Body.String())
	}
}

func TestAnnotateHandler_CanceledBaseContextWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	SetBaseContext(ctx)
	defer SetBaseContext(nil)
	cancel()
	r := NewMux(&mockService{meta: testMeta(), err: context.Canceled})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(emptyDoc)))
	if w.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", w.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	r := NewMux(&mockService{meta: testMeta()})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", w.Code, w.Body.String())
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var h types.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil {
		t.Fatalf("json: %v", err)
	}
	if h.Status != "ready" || h.App != "http://apps.example.org/test-app/v1" || h.Device != "Fake GPU" {
		t.Fatalf("unexpected readyz: %+v", h)
	}
}

func TestSecurityHeaderAndCORS(t *testing.T) {
	SetCORSOptions(true, []string{"https://ui.example.org"}, []string{"GET", "POST"}, []string{"Content-Type"})
	defer SetCORSOptions(false, nil, nil, nil)
	r := NewMux(&mockService{meta: testMeta()})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://ui.example.org")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://ui.example.org" {
		t.Fatalf("cors origin=%q", got)
	}
}

// TestEndToEnd_ModeVerbose drives the real orchestrator through HTTP.
func TestEndToEnd_ModeVerbose(t *testing.T) {
	var seen *params.Configuration
	orch, err := annotate.New(annotate.Options{
		Metadata: testMeta(),
		Analyzer: annotate.AnalyzerFunc(func(ctx context.Context, doc *types.Document, cfg *params.Configuration) (*types.Document, error) {
			seen = cfg
			annotate.NewView(ctx, doc)
			return doc, nil
		}),
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r := NewMux(orch)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(emptyDoc)))
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `\"mode\"`) {
		t.Fatalf("expected 400 naming mode, got %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/?mode=fast&pretty=true", strings.NewReader(emptyDoc)))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if seen.Text("mode") != "fast" || seen.Bool("verbose") {
		t.Fatalf("unexpected configuration: %v", seen.Values())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("\n  ")) {
		t.Fatalf("expected pretty output")
	}
	got, err := types.ParseDocument(w.Body.Bytes())
	if err != nil || len(got.Views) != 1 || got.Views[0].Metadata.App != "http://apps.example.org/test-app/v1" {
		t.Fatalf("unexpected document: %s", w.Body.String())
	}
}
