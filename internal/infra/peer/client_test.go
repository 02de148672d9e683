package peer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"octo/internal/domain"
	"octo/internal/usecase"
)

func TestClient_PollAndConfirm(t *testing.T) {
	var confirmed []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env domain.SignedEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		switch r.URL.Path {
		case PollPath:
			payload, _ := json.Marshal(domain.EventsPayload{NextCursor: 7})
			_ = json.NewEncoder(w).Encode(domain.SignedEnvelope{Payload: payload, SourceNode: "orn:koi-net.node:b+02", TargetNode: env.SourceNode})
		case ConfirmPath:
			var p domain.ConfirmPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				t.Fatalf("decode confirm: %v", err)
			}
			confirmed = p.EventIDs
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := New(time.Second)
	reply, err := client.Poll(context.Background(), srv.URL+"/", domain.SignedEnvelope{
		Payload:    json.RawMessage(`{"limit":10}`),
		SourceNode: "orn:koi-net.node:a+01",
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if reply.TargetNode != "orn:koi-net.node:a+01" {
		t.Fatalf("unexpected reply target %q", reply.TargetNode)
	}
	if err := client.Confirm(context.Background(), srv.URL, domain.SignedEnvelope{
		Payload:    json.RawMessage(`{"event_ids":["e1","e2"]}`),
		SourceNode: "orn:koi-net.node:a+01",
	}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(confirmed) != 2 {
		t.Fatalf("expected two confirmed ids, got %v", confirmed)
	}
}

func TestClient_Identity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != IdentityPath {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(domain.Node{RID: "orn:koi-net.node:b+02", Name: "b", Type: domain.NodeTypeFull})
	}))
	defer srv.Close()

	node, err := New(time.Second).Identity(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if node.Name != "b" {
		t.Fatalf("unexpected node %+v", node)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	status := http.StatusUnauthorized
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"code":"POLICY_REJECTED","message":"signature invalid"}`))
	}))
	defer srv.Close()
	client := New(time.Second)

	err := client.Push(context.Background(), srv.URL, domain.SignedEnvelope{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected status error, got %v", err)
	}
	if statusErr.Code != "POLICY_REJECTED" || statusErr.Temporary() {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
	if usecase.Retryable(err) {
		t.Fatalf("policy rejection must not be retried")
	}

	status = http.StatusServiceUnavailable
	err = client.Push(context.Background(), srv.URL, domain.SignedEnvelope{})
	if !usecase.Retryable(err) {
		t.Fatalf("expected 503 to be retryable, got %v", err)
	}

	srv.Close()
	err = client.Push(context.Background(), srv.URL, domain.SignedEnvelope{})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected network error, got %v", err)
	}
	if !usecase.Retryable(err) {
		t.Fatalf("expected unreachable peer to be retryable")
	}

	if err := client.Push(context.Background(), " ", domain.SignedEnvelope{}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for empty base url, got %v", err)
	}
}
