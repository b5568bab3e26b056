package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionType categorises a state-changing action
type ActionType string

const (
	ActionRoleCreate       ActionType = "role.create"
	ActionRoleUpdate       ActionType = "role.update"
	ActionRoleDelete       ActionType = "role.delete"
	ActionUserRolesUpdate  ActionType = "user.roles_update"
	ActionGrantAdd         ActionType = "user.grant_add"
	ActionGrantRevoke      ActionType = "user.grant_revoke"
	ActionUserCreate       ActionType = "user.create"
	ActionUserStatusUpdate ActionType = "user.status_update"
	ActionOrgCreate        ActionType = "organisation.create"
	ActionPermissionCreate ActionType = "permission.create"
	ActionPermissionUpdate ActionType = "permission.update"
)

// TargetType identifies the kind of record an entry refers to
type TargetType string

const (
	TargetRole         TargetType = "role"
	TargetUser         TargetType = "user"
	TargetOrganisation TargetType = "organisation"
	TargetPermission   TargetType = "permission"
)

// Entry is a single append-only audit record. NewValue carries the state the
// target was changed to, serialized as JSON.
type Entry struct {
	ID         int64           `json:"id"`
	TargetID   string          `json:"target_id"`
	TargetType TargetType      `json:"target_type"`
	ActionType ActionType      `json:"action_type"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
	ChangedBy  *uuid.UUID      `json:"changed_by,omitempty"`
	IPAddress  string          `json:"ip_address,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Filter narrows an audit search. Zero values mean "no filter".
type Filter struct {
	TargetID   string
	TargetType TargetType
	ActionType ActionType
	ChangedBy  *uuid.UUID
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}

// Emitter records audit entries. Implementations must be safe for
// concurrent use.
type Emitter interface {
	Record(ctx context.Context, entry Entry) error
}

// MarshalValue serializes a changed value for Entry.NewValue, dropping
// unserializable payloads rather than failing the caller.
func MarshalValue(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
