package s4pp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestHTTPAuditExporter_PostsProtobuf(t *testing.T) {
	received := make(chan *structpb.Struct, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/x-protobuf" {
			t.Errorf("Content-Type = %q, want application/x-protobuf", r.Header.Get("Content-Type"))
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		var s structpb.Struct
		if err := proto.Unmarshal(body, &s); err != nil {
			t.Fatal(err)
		}
		received <- &s
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exp := NewHTTPAuditExporter(server.URL)
	event := AuditEvent{
		SessionID: "sess-1",
		SeqID:     42,
		Kind:      AuditCommit,
		Detail:    "",
		At:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := exp.Export(context.Background(), event); err != nil {
		t.Fatal(err)
	}

	s := <-received
	if got := s.Fields["session_id"].GetStringValue(); got != "sess-1" {
		t.Errorf("session_id = %q, want sess-1", got)
	}
	if got := s.Fields["seq_id"].GetNumberValue(); got != 42 {
		t.Errorf("seq_id = %v, want 42", got)
	}
	if got := s.Fields["kind"].GetStringValue(); got != string(AuditCommit) {
		t.Errorf("kind = %q, want %q", got, AuditCommit)
	}
}

func TestHTTPAuditExporter_NonOKStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	exp := NewHTTPAuditExporter(server.URL)
	err := exp.Export(context.Background(), AuditEvent{SessionID: "s", Kind: AuditReject})
	if err == nil {
		t.Error("expected an error for a non-200 collector response")
	}
}

func TestNopAuditExporter_NeverFails(t *testing.T) {
	var exp NopAuditExporter
	if err := exp.Export(context.Background(), AuditEvent{}); err != nil {
		t.Errorf("NopAuditExporter.Export returned %v, want nil", err)
	}
}
