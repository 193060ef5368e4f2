package notify

// Kind is the tagged variant distinguishing why a message is being sent.
// The pipeline branches once at enqueue time on this value rather than
// dispatching through per-kind types.
type Kind string

const (
	KindFirstRecord     Kind = "first_record"
	KindStatusChange    Kind = "status_change"
	KindVerificationLink Kind = "verification_link"
	KindManagementCode  Kind = "management_code"
)

// queued reports whether messages of this kind go through the rate-limited
// queue (status notifications) or bypass it (account-management mail,
// which a user is actively waiting on in their browser).
func (k Kind) queued() bool {
	return k == KindFirstRecord || k == KindStatusChange
}
