// Package protocol implements the line-oriented filter protocol spoken between
// the mail exchange daemon and this filter over a pipe.
package protocol

// Event is a decoded input line. The set of implementations is closed;
// anything the filter does not act on decodes to Unrecognized.
type Event interface {
	event()
}

// ConfigReady is the `config|ready` line that ends the host's configuration
// block and asks the filter to register its events.
type ConfigReady struct{}

// TxBegin reports the start of a transaction in a session.
type TxBegin struct {
	Session string
}

// TxRcpt reports the outcome of a RCPT TO command.
type TxRcpt struct {
	Session   string
	MessageID string
	Status    string
	Recipient string
}

// LinkDisconnect reports that the client connection of a session is gone.
type LinkDisconnect struct {
	Session string
}

// DataLine is one line of message data. Line holds everything after the
// token, rejoined with the field separator exactly as received.
type DataLine struct {
	Session string
	Token   string
	Line    string
}

// Commit asks for the final verdict on a transaction.
type Commit struct {
	Session string
	Token   string
}

// Unrecognized is any line that is malformed, too short or not of interest.
type Unrecognized struct{}

func (ConfigReady) event()    {}
func (TxBegin) event()        {}
func (TxRcpt) event()         {}
func (LinkDisconnect) event() {}
func (DataLine) event()       {}
func (Commit) event()         {}
func (Unrecognized) event()   {}

// Kind returns a short label for an event, used for metrics.
func Kind(e Event) string {
	switch e.(type) {
	case ConfigReady:
		return "config-ready"
	case TxBegin:
		return "tx-begin"
	case TxRcpt:
		return "tx-rcpt"
	case LinkDisconnect:
		return "link-disconnect"
	case DataLine:
		return "data-line"
	case Commit:
		return "commit"
	default:
		return "unrecognized"
	}
}
