package queryadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/czvisa/monitor/engine/store"
)

func TestQueryBatchReportsEachResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		json.NewDecoder(r.Body).Decode(&req)
		status := "Granted"
		if req.Code == "fails" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(queryResponse{Status: status})
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.Retries = 0
	a := New(cfg, zap.NewNop().Sugar(), nil)

	results := map[string]store.Status{}
	err := a.QueryBatch(context.Background(), []string{"ok1", "fails", "ok2"}, "corr", func(code string, status store.Status, err error) {
		results[code] = status
	})
	if err != nil {
		t.Fatalf("QueryBatch: %v", err)
	}
	if results["ok1"] != store.StatusGranted || results["ok2"] != store.StatusGranted {
		t.Fatalf("expected Granted for ok codes, got %v", results)
	}
	if results["fails"] != store.StatusQueryFailed {
		t.Fatalf("expected Query-Failed for fails, got %v", results["fails"])
	}
}
