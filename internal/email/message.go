// Package email defines the mail data model shared by the parser, the verdict
// engine and the alert notifiers.
package email

// Address is a parsed mailbox: an optional display name and an addr-spec.
type Address struct {
	Name    string
	Address string
}

// Header holds the header fields the filter inspects.
type Header struct {
	// HasFrom reports whether a From field was present at all.
	HasFrom bool

	// From is the parsed From address list.
	From []Address

	Subject   string
	MessageID string
}

// DisplayNames returns the non-empty display names of the From addresses.
func (h *Header) DisplayNames() []string {
	names := make([]string, 0, len(h.From))
	for _, addr := range h.From {
		if addr.Name != "" {
			names = append(names, addr.Name)
		}
	}
	return names
}

// Email is an outbound plain-text message, used for rejection alerts.
type Email struct {
	From     string
	To       []string
	Subject  string
	TextBody string
}
