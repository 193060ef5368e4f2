// Package store implements the dual-file persistence layer: status.json
// (admin-owned, derived from the declared config) and users.json
// (user-owned, mutated through the HTTP API).
package store

import "time"

// Status is the externally-observed state of a code.
type Status string

const (
	StatusPending     Status = "Pending"
	StatusNotFound    Status = "Not-Found"
	StatusProceedings Status = "Proceedings"
	StatusGranted     Status = "Granted"
	StatusRejected    Status = "Rejected"
	StatusQueryFailed Status = "Query-Failed"
	StatusUnknown     Status = "Unknown"
)

// IsTerminal reports whether no further polling should occur for this status.
func (s Status) IsTerminal() bool {
	return s == StatusGranted || s == StatusRejected
}

// Origin identifies which store owns a code.
type Origin string

const (
	OriginAdmin Origin = "admin"
	OriginUser  Origin = "user"
)

// Channel is the notification delivery channel declared for a code.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelNone  Channel = "none"
)

// QueryType distinguishes primary fingerprints from structured secondary codes.
type QueryType string

const (
	QueryPrimary   QueryType = "primary"
	QuerySecondary QueryType = "secondary"
)

// SecondaryParts is the decomposed 4-tuple of a secondary/OAM code.
type SecondaryParts struct {
	Serial string
	Suffix string // optional
	Type   string
	Year   string
}

// CodeSpec is a declared monitoring target, sourced from config or from a
// verified user addition.
type CodeSpec struct {
	Code        string    `json:"code"`
	QueryType   QueryType `json:"query_type"`
	Secondary   *SecondaryParts `json:"secondary,omitempty"`
	Channel     Channel   `json:"notification_channel"`
	Target      string    `json:"target_address,omitempty"`
	FreqMinutes *int      `json:"freq_minutes,omitempty"`
	Note        string    `json:"note,omitempty"`
}

// CodeItem is the persisted per-code runtime state.
type CodeItem struct {
	Code            string     `json:"code"`
	Status          Status     `json:"status"`
	LastChecked     *time.Time `json:"last_checked,omitempty"`
	LastChanged     *time.Time `json:"last_changed,omitempty"`
	NextCheck       *time.Time `json:"next_check,omitempty"`
	FreqMinutes     int        `json:"freq_minutes"`
	UsesDefaultFreq bool       `json:"uses_default_freq"`
	FirstCheck      bool       `json:"first_check"`
	Channel         Channel    `json:"channel"`
	Target          string     `json:"target,omitempty"`
	Note            string     `json:"note,omitempty"`
	RetryCount      int        `json:"retry_count,omitempty"`

	// User-origin metadata; zero-valued and omitted for admin-origin items.
	AddedAt *time.Time `json:"added_at,omitempty"`
	AddedBy string     `json:"added_by,omitempty"`
}

// MergedItem is the (origin, spec, item) projection consumed by the
// scheduler and the HTTP layer.
type MergedItem struct {
	Origin Origin
	Spec   CodeSpec
	Item   *CodeItem // nil if the code has no persisted item yet
}

// AdminDocument is the shape of status.json.
type AdminDocument struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Items       map[string]*CodeItem `json:"items"`
}

// Session authenticates a user to the management endpoints for a bounded time.
type Session struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	LastUsed  time.Time `json:"last_used"`
}

// VerificationCredentialType distinguishes the purpose of a short-lived code.
type VerificationCredentialType string

const (
	VerificationLogin      VerificationCredentialType = "login"
	VerificationManagement VerificationCredentialType = "management"
)

// VerificationCode is a short-lived credential sent to an email address.
type VerificationCode struct {
	Code    string                     `json:"code"`
	Expires time.Time                  `json:"expires"`
	Type    VerificationCredentialType `json:"type"`
}

// PendingAddition is a user's request to add a code, awaiting email verification.
type PendingAddition struct {
	Code    string    `json:"code"`
	Email   string    `json:"email"`
	Expires time.Time `json:"expires"`
}

// UserDocument is the shape of users.json.
type UserDocument struct {
	GeneratedAt        time.Time                    `json:"generated_at"`
	Codes              map[string]*CodeItem         `json:"codes"`
	Sessions           map[string]*Session          `json:"sessions"`
	VerificationCodes  map[string]*VerificationCode `json:"verification_codes"`
	PendingAdditions   map[string]*PendingAddition  `json:"pending_additions"`
}

func newAdminDocument() *AdminDocument {
	return &AdminDocument{
		GeneratedAt: time.Now(),
		Items:       make(map[string]*CodeItem),
	}
}

func newUserDocument() *UserDocument {
	return &UserDocument{
		GeneratedAt:       time.Now(),
		Codes:             make(map[string]*CodeItem),
		Sessions:          make(map[string]*Session),
		VerificationCodes: make(map[string]*VerificationCode),
		PendingAdditions:  make(map[string]*PendingAddition),
	}
}

// PublicItem is the sensitive-field-stripped view returned to unauthenticated readers.
type PublicItem struct {
	Code        string     `json:"code"`
	Status      Status     `json:"status"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	Note        string     `json:"note,omitempty"`
}
