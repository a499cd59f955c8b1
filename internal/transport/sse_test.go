package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSSEDialerParsesFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/sess/events" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"event_type\":\"ready\"}\n\n"))
		_, _ = w.Write([]byte("data: {\"event_type\":\"assistant_chunk\",\n"))
		_, _ = w.Write([]byte("data: \"data\":{\"content\":\"hi\"}}\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}))
	defer server.Close()

	dialer := &SSEDialer{BaseURL: server.URL}
	conn, err := dialer.Dial(context.Background(), "sess")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	first, err := conn.Read()
	if err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if string(first) != `{"event_type":"ready"}` {
		t.Fatalf("unexpected frame: %s", first)
	}
	// multi-line data frames join with a newline
	second, err := conn.Read()
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if want := "{\"event_type\":\"assistant_chunk\",\n\"data\":{\"content\":\"hi\"}}"; string(second) != want {
		t.Fatalf("unexpected frame: %q", second)
	}

	// server handler returned: stream end surfaces as retryable closure
	_, err = conn.Read()
	var closeErr *CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected CloseError, got %v", err)
	}
	if closeErr.Code != CloseAbnormal {
		t.Fatalf("close code = %d, want %d", closeErr.Code, CloseAbnormal)
	}
}

func TestSSEDialerMapsRefusalStatus(t *testing.T) {
	cases := map[int]int{
		http.StatusUnauthorized: CloseAuthFailure,
		http.StatusForbidden:    CloseForbidden,
		http.StatusNotFound:     CloseSessionNotFound,
	}
	for status, wantCode := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		dialer := &SSEDialer{BaseURL: server.URL}
		_, err := dialer.Dial(context.Background(), "sess")
		server.Close()
		var closeErr *CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("status %d: expected CloseError, got %v", status, err)
		}
		if closeErr.Code != wantCode {
			t.Fatalf("status %d: code = %d, want %d", status, closeErr.Code, wantCode)
		}
	}
}

func TestSSEPingIsNoOp(t *testing.T) {
	conn := &sseConn{}
	if err := conn.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
