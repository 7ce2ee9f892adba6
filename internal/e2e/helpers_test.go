package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"annotd/internal/annotate"
	"annotd/internal/appmeta"
	"annotd/internal/httpapi"
	"annotd/internal/params"
)

const gib = uint64(1) << 30

func testMetadata(minMiB uint64) *appmeta.Metadata {
	return &appmeta.Metadata{
		Name:        "Segmenter",
		Description: "finds speech",
		Identifier:  "http://apps.example.org/segmenter/v1",
		AppVersion:  "v1",
		License:     "Apache-2.0",
		URL:         "https://example.org/segmenter",
		Output:      []appmeta.IOType{{Type: "http://vocab.example.org/TimeFrame/v1"}},
		Parameters: []params.Parameter{
			{Name: "mode", Type: params.TypeString, Choices: []any{"fast", "slow"}},
			{Name: "verbose", Type: params.TypeBoolean, Default: false},
		},
		GPUMemMin: minMiB,
	}
}

// newServer wires a real orchestrator behind the HTTP API.
func newServer(t *testing.T, o annotate.Options) (*httptest.Server, *annotate.Orchestrator) {
	t.Helper()
	if o.Metadata == nil {
		o.Metadata = testMetadata(0)
	}
	o.Logger = zerolog.Nop()
	orch, err := annotate.New(o)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(orch))
	t.Cleanup(srv.Close)
	return srv, orch
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
