package s4pp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// AuditEventKind classifies an AuditEvent.
type AuditEventKind string

const (
	AuditCommit AuditEventKind = "commit"
	AuditReject AuditEventKind = "reject"
	AuditNok    AuditEventKind = "nok"
)

// AuditEvent records one externally-interesting session outcome: a
// sequence commit, a REJ, or a sink-failure NOK.
type AuditEvent struct {
	SessionID string
	SeqID     int64
	Kind      AuditEventKind
	Detail    string
	At        time.Time
}

// AuditExporter is a best-effort external sink for AuditEvents. Export
// failures must never block or fail a protocol response; callers log and
// swallow them.
type AuditExporter interface {
	Export(ctx context.Context, event AuditEvent) error
}

// HTTPAuditExporter POSTs each event to a collector as a protobuf-encoded
// structpb.Struct, mirroring the teacher's ProtoHTTPTransport pattern of
// marshaling with proto.Marshal and posting application/x-protobuf. There
// is no generated .proto message for audit events in the retrieval pack,
// so the wire payload is built from structpb/timestamppb directly rather
// than fabricating generated code (see DESIGN.md).
type HTTPAuditExporter struct {
	URL    string
	Client *http.Client
}

// NewHTTPAuditExporter builds an exporter posting to url.
func NewHTTPAuditExporter(url string) *HTTPAuditExporter {
	return &HTTPAuditExporter{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

// Export implements AuditExporter.
func (e *HTTPAuditExporter) Export(ctx context.Context, event AuditEvent) error {
	fields := map[string]any{
		"session_id": event.SessionID,
		"seq_id":     float64(event.SeqID),
		"kind":       string(event.Kind),
		"detail":     event.Detail,
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("build audit struct: %w", err)
	}
	ts := timestamppb.New(event.At)
	s.Fields["at"] = structpb.NewStructValue(&structpb.Struct{
		Fields: map[string]*structpb.Value{
			"seconds": structpb.NewNumberValue(float64(ts.Seconds)),
			"nanos":   structpb.NewNumberValue(float64(ts.Nanos)),
		},
	})

	data, err := proto.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")

	resp, err := e.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post audit event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("audit collector returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

// NopAuditExporter discards every event; used when no -audit-url is
// configured.
type NopAuditExporter struct{}

// Export implements AuditExporter as a no-op.
func (NopAuditExporter) Export(context.Context, AuditEvent) error { return nil }
