package identity

import (
	"encoding/json"
	"io"
	"time"

	"github.com/commercekit/identity/internal/audit"
)

// TokenPair is the credential set returned by Authenticate and Refresh:
// a signed access token and an opaque refresh token value.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SubjectClaims is the verified content of an access token.
type SubjectClaims struct {
	SubjectID string
	RoleID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionDescriptor is the cached per-subject session snapshot stored
// under subject:{id}:session.
type SessionDescriptor struct {
	SubjectID string    `json:"subject_id"`
	RoleID    string    `json:"role_id"`
	Verified  bool      `json:"verified"`
	PrimedAt  time.Time `json:"primed_at"`
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = audit.Event

// AuditKind classifies an AuditEvent.
type AuditKind = audit.Kind

// The closed set of audit event kinds the engine emits.
const (
	AuditLoginSuccess        = audit.KindLoginSuccess
	AuditLoginFailed         = audit.KindLoginFailed
	AuditRefreshSuccess      = audit.KindRefreshSuccess
	AuditRefreshRejected     = audit.KindRefreshRejected
	AuditRefreshReuse        = audit.KindRefreshReuse
	AuditTokenRevoked        = audit.KindTokenRevoked
	AuditAllTokensRevoked    = audit.KindAllTokensRevoked
	AuditLogout              = audit.KindLogout
	AuditRoleCreated         = audit.KindRoleCreated
	AuditRoleDeleted         = audit.KindRoleDeleted
	AuditRolePermissionsSet  = audit.KindRolePermissionsSet
	AuditPermissionGranted   = audit.KindPermissionGranted
	AuditPermissionRevoked   = audit.KindPermissionRevoked
	AuditPermissionCreated   = audit.KindPermissionCreated
	AuditSubjectRoleAssigned = audit.KindSubjectRoleAssigned
)

// AuditSink receives AuditEvent values from the engine's dispatcher.
type AuditSink = audit.Sink

// NoOpSink is an AuditSink that silently discards all events.
type NoOpSink = audit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = audit.ChannelSink

// JSONWriterSink is an AuditSink that writes JSON-encoded events to an
// io.Writer, one object per line.
type JSONWriterSink = audit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeSessionDescriptor parses a cached session payload.
func DecodeSessionDescriptor(data []byte) (SessionDescriptor, error) {
	var desc SessionDescriptor
	err := json.Unmarshal(data, &desc)
	return desc, err
}
