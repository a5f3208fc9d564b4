package sender_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/trackwell/beacon/sender"
	"github.com/trackwell/beacon/signature"
)

func TestHTTPSenderSuccess(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"received":true}`)) //nolint:errcheck // test server
	}))
	defer srv.Close()

	s := sender.NewHTTPSender(srv.URL, "", 5*time.Second, map[string]string{
		"X-Api-Key": "key-123",
	})

	res := s.Send(context.Background(), sender.Request{
		OrderID: "order-1001",
		EventID: "stable-event-id-0123456789abcdef",
		Payload: json.RawMessage(`{"value":49.99}`),
	})

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ResponseCode != 200 {
		t.Errorf("status = %d, want 200", res.ResponseCode)
	}
	if res.ResponseBody != `{"received":true}` {
		t.Errorf("response body = %q", res.ResponseBody)
	}
	if string(gotBody) != `{"value":49.99}` {
		t.Errorf("payload sent = %q", gotBody)
	}
	if gotHeaders.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", gotHeaders.Get("Content-Type"))
	}
	if gotHeaders.Get("X-Beacon-Order-ID") != "order-1001" {
		t.Errorf("order ID header = %q", gotHeaders.Get("X-Beacon-Order-ID"))
	}
	if gotHeaders.Get("X-Beacon-Event-ID") != "stable-event-id-0123456789abcdef" {
		t.Errorf("event ID header = %q", gotHeaders.Get("X-Beacon-Event-ID"))
	}
	if gotHeaders.Get("X-Api-Key") != "key-123" {
		t.Errorf("custom header = %q", gotHeaders.Get("X-Api-Key"))
	}
	if gotHeaders.Get("X-Beacon-Signature") != "" {
		t.Error("signature header present without a secret")
	}
}

func TestHTTPSenderSignsWhenSecretSet(t *testing.T) {
	payload := json.RawMessage(`{"value":1}`)
	secret := "bcsec_testsecret"

	var sig, ts string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get("X-Beacon-Signature")
		ts = r.Header.Get("X-Beacon-Timestamp")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := sender.NewHTTPSender(srv.URL, secret, 5*time.Second, nil)
	res := s.Send(context.Background(), sender.Request{OrderID: "order-1001", Payload: payload})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	if sig == "" || ts == "" {
		t.Fatal("signature headers missing")
	}
	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		t.Fatalf("timestamp header %q not an integer", ts)
	}
	if want := signature.Sign(payload, secret, tsInt); sig != want {
		t.Errorf("signature = %q, want %q", sig, want)
	}
}

func TestHTTPSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable")) //nolint:errcheck // test server
	}))
	defer srv.Close()

	s := sender.NewHTTPSender(srv.URL, "", 5*time.Second, nil)
	res := s.Send(context.Background(), sender.Request{OrderID: "order-1001"})

	if res.Success {
		t.Fatal("expected failure for 502")
	}
	if res.ResponseCode != 502 {
		t.Errorf("status = %d, want 502", res.ResponseCode)
	}
	if res.ResponseBody != "upstream unavailable" {
		t.Errorf("response body = %q", res.ResponseBody)
	}
	if res.Err != "destination returned status 502" {
		t.Errorf("error = %q", res.Err)
	}
}

func TestHTTPSenderTruncatesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(strings.Repeat("x", 100*1024))) //nolint:errcheck // test server
	}))
	defer srv.Close()

	s := sender.NewHTTPSender(srv.URL, "", 5*time.Second, nil)
	res := s.Send(context.Background(), sender.Request{OrderID: "order-1001"})

	if len(res.ResponseBody) != 64*1024 {
		t.Errorf("response body length = %d, want %d", len(res.ResponseBody), 64*1024)
	}
}

func TestHTTPSenderContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := sender.NewHTTPSender(srv.URL, "", 5*time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := s.Send(ctx, sender.Request{OrderID: "order-1001"})
	if res.Success {
		t.Fatal("expected failure on cancelled context")
	}
	if res.Err == "" {
		t.Error("expected transport error message")
	}
	if res.ResponseCode != 0 {
		t.Errorf("status = %d, want 0 for transport failure", res.ResponseCode)
	}
}
