// Package verdict decides whether a committed message may proceed.
//
// The policy is anti-impersonation: a message is rejected when the display
// name of its sender contains, as a whole word, the domain of any of its
// accepted recipients.
package verdict

// RejectReason is the SMTP reply sent to the client for a rejected message.
const RejectReason = "550 Sender name contains recipient domain"

// Kind is the two-state result of an evaluation.
type Kind int

const (
	Proceed Kind = iota
	Reject
)

// Verdict is the decision for one commit.
type Verdict struct {
	Kind   Kind
	Reason string
}

// String renders the verdict in wire form: "proceed" or "reject|<reason>".
func (v Verdict) String() string {
	if v.Kind == Reject {
		return "reject|" + v.Reason
	}
	return "proceed"
}

// Cause explains how a verdict was reached.
type Cause string

const (
	CauseNoSession  Cause = "no-session"
	CauseUnparsable Cause = "unparsable"
	CauseNoSender   Cause = "no-sender"
	CauseNoMatch    Cause = "no-match"
	CauseMatch      Cause = "match"
)

// Match is one recipient domain found in one sender display name.
type Match struct {
	Domain string `json:"domain"`
	Name   string `json:"name"`
}

// Outcome is the full result of an evaluation. Only Verdict reaches the host.
type Outcome struct {
	Verdict Verdict
	Cause   Cause

	// Subject and MessageID identify the message once its header parsed.
	Subject   string
	MessageID string

	// Senders are the display names that were examined.
	Senders []string
	Matches []Match
}
