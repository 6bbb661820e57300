package domain

// Built-in field names on user records. Anything else on a record is an
// arbitrary caller-supplied field.
const (
	FieldID          = "id"
	FieldUsername    = "username"
	FieldPassword    = "password"
	FieldDisplayName = "displayName"
	FieldReputation  = "reputation"
	FieldIsMe        = "isMe"
)

// Record is a stored user document. The password field holds the argon2
// digest at rest and is stripped before a record leaves the service.
type Record map[string]any

func (r Record) ID() string {
	s, _ := r[FieldID].(string)
	return s
}

func (r Record) Username() string {
	s, _ := r[FieldUsername].(string)
	return s
}

func (r Record) Password() string {
	s, _ := r[FieldPassword].(string)
	return s
}

// Clone returns a shallow copy, so callers can mutate without aliasing the
// original map.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Identity is the caller resolved for a single request. A nil *Identity is a
// valid anonymous caller, so all methods are nil-safe.
type Identity struct {
	Record     Record
	SessionID  string
	Collection string
}

// UserID returns the resolved user's id, or "" for anonymous callers.
func (i *Identity) UserID() string {
	if i == nil || i.Record == nil {
		return ""
	}
	return i.Record.ID()
}

// IsAnonymous reports whether no user is bound to this request.
func (i *Identity) IsAnonymous() bool {
	return i.UserID() == ""
}
