// Package parser extracts header fields from a buffered RFC 5322 message.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	_ "github.com/emersion/go-message/charset"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/shineum/smtpd-filter-copycat/internal/email"
)

// Parser turns raw message bytes into an email.Header.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

// ParseHeader reads the header block of raw. Only the header section is
// examined; the body, if any, is ignored. Encoded words in display names are
// decoded, including non UTF-8 charsets.
func (p *Parser) ParseHeader(raw []byte) (*email.Header, error) {
	// A header block may legitimately end at end of input without the blank
	// separator line; terminate it so the reader sees a complete block.
	data := make([]byte, 0, len(raw)+1)
	data = append(data, raw...)
	data = append(data, '\n')

	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	h := mail.Header{Header: message.Header{Header: th}}

	result := &email.Header{
		HasFrom:   h.Has("From"),
		MessageID: h.Get("Message-Id"),
	}

	if subject, err := h.Subject(); err == nil {
		result.Subject = subject
	} else {
		result.Subject = h.Get("Subject")
	}

	if result.HasFrom {
		from, err := h.AddressList("From")
		if err != nil {
			result.From = []email.Address{lenientFrom(h)}
			return result, nil
		}
		result.From = make([]email.Address, 0, len(from))
		for _, addr := range from {
			result.From = append(result.From, email.Address{
				Name:    addr.Name,
				Address: addr.Address,
			})
		}
	}

	return result, nil
}

// lenientFrom reads a From field that is not a valid address list. The text
// before the last angle address is the display name; without an angle
// address there is no display name.
func lenientFrom(h mail.Header) email.Address {
	value, err := h.Text("From")
	if err != nil {
		value = h.Get("From")
	}
	value = strings.TrimSpace(value)

	i := strings.LastIndexByte(value, '<')
	if i < 0 {
		return email.Address{Address: value}
	}

	addr := strings.TrimSpace(value[i+1:])
	if j := strings.IndexByte(addr, '>'); j >= 0 {
		addr = addr[:j]
	}

	name := strings.TrimSpace(value[:i])
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		name = strings.TrimSpace(name[1 : len(name)-1])
	}

	return email.Address{Name: name, Address: strings.TrimSpace(addr)}
}
