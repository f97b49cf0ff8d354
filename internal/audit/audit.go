package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Kind classifies an audit event. The engine emits a closed set of
// kinds so sinks can switch on them instead of parsing strings.
type Kind string

const (
	KindLoginSuccess        Kind = "login_success"
	KindLoginFailed         Kind = "login_failed"
	KindRefreshSuccess      Kind = "refresh_success"
	KindRefreshRejected     Kind = "refresh_rejected"
	KindRefreshReuse        Kind = "refresh_reuse_detected"
	KindTokenRevoked        Kind = "token_revoked"
	KindAllTokensRevoked    Kind = "all_tokens_revoked"
	KindLogout              Kind = "logout"
	KindRoleCreated         Kind = "role_created"
	KindRoleDeleted         Kind = "role_deleted"
	KindRolePermissionsSet  Kind = "role_permissions_set"
	KindPermissionGranted   Kind = "role_permission_granted"
	KindPermissionRevoked   Kind = "role_permission_revoked"
	KindPermissionCreated   Kind = "permission_created"
	KindSubjectRoleAssigned Kind = "subject_role_assigned"
)

// Event is the canonical audit record for security-relevant engine
// operations: authentications, rotations, revocations, reuse detections,
// and admin mutations.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      Kind              `json:"kind"`
	SubjectID string            `json:"subject_id,omitempty"`
	LineageID string            `json:"lineage_id,omitempty"`
	RoleID    string            `json:"role_id,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
