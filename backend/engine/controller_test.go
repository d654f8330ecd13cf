package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestController_SwitchProxy(t *testing.T) {
	t.Parallel()

	var gotPath, gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		gotPath = r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotName = body["name"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewController(srv.URL)
	if err := c.SwitchProxy(context.Background(), SelectorGroup, "node-1"); err != nil {
		t.Fatalf("SwitchProxy() error: %v", err)
	}
	if gotPath != "/proxies/"+SelectorGroup {
		t.Errorf("path = %q", gotPath)
	}
	if gotName != "node-1" {
		t.Errorf("name = %q", gotName)
	}
}

func TestController_SwitchProxyFailureSurfacesBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"unknown proxy"}`))
	}))
	defer srv.Close()

	err := NewController(srv.URL).SwitchProxy(context.Background(), SelectorGroup, "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unknown proxy") {
		t.Fatalf("error does not carry response body: %v", err)
	}
}

func TestController_Unreachable(t *testing.T) {
	t.Parallel()

	err := NewController("http://127.0.0.1:1").SwitchProxy(context.Background(), SelectorGroup, "x")
	if err == nil {
		t.Fatal("expected error for unreachable controller")
	}
}
