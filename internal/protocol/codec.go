package protocol

import (
	"bufio"
	"io"
	"strings"
)

const (
	separator = "|"

	// Terminator is the content of the data line that marks the end of the
	// message. It arrives already unescaped by the host.
	Terminator = "."

	// StatusOK is the tx-rcpt status of an accepted recipient.
	StatusOK = "ok"

	// Field positions shared by report and filter lines:
	// kind|version|timestamp|subsystem|phase|session|...
	fieldPhase   = 4
	fieldSession = 5
	fieldToken   = 6

	minReportFields = 6
	minFilterFields = 7
)

// registrations is the fixed handshake sent in reply to config|ready.
var registrations = []string{
	"register|report|smtp-in|tx-begin",
	"register|report|smtp-in|tx-rcpt",
	"register|filter|smtp-in|data-line",
	"register|filter|smtp-in|commit",
	"register|report|smtp-in|link-disconnect",
	"register|ready",
}

// Decode parses one input line. Trailing CR and LF characters are ignored.
// It never fails: lines it cannot use decode to Unrecognized.
func Decode(line string) Event {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, separator)

	switch fields[0] {
	case "config":
		if len(fields) > 1 && fields[1] == "ready" {
			return ConfigReady{}
		}
	case "report":
		return decodeReport(fields)
	case "filter":
		return decodeFilter(fields)
	}
	return Unrecognized{}
}

func decodeReport(fields []string) Event {
	if len(fields) < minReportFields {
		return Unrecognized{}
	}

	session := fields[fieldSession]
	switch fields[fieldPhase] {
	case "tx-begin":
		return TxBegin{Session: session}
	case "tx-rcpt":
		// ...|tx-rcpt|session|message-id|status|address
		if len(fields) < minReportFields+3 {
			return Unrecognized{}
		}
		return TxRcpt{
			Session:   session,
			MessageID: fields[6],
			Status:    fields[7],
			Recipient: fields[8],
		}
	case "link-disconnect":
		return LinkDisconnect{Session: session}
	}
	return Unrecognized{}
}

func decodeFilter(fields []string) Event {
	if len(fields) < minFilterFields {
		return Unrecognized{}
	}

	session, token := fields[fieldSession], fields[fieldToken]
	switch fields[fieldPhase] {
	case "data-line":
		return DataLine{
			Session: session,
			Token:   token,
			Line:    strings.Join(fields[minFilterFields:], separator),
		}
	case "commit":
		return Commit{Session: session, Token: token}
	}
	return Unrecognized{}
}

// Encoder writes response lines. Every response is flushed as soon as it is
// complete, since the host blocks waiting for it.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Register writes the registration handshake.
func (e *Encoder) Register() error {
	for _, line := range registrations {
		if _, err := e.w.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return e.w.Flush()
}

// DataLine echoes a data line back to the host, unaltered.
func (e *Encoder) DataLine(session, token, line string) error {
	return e.writeLine("filter-dataline", session, token, line)
}

// Result writes the verdict for a commit. verdict is either "proceed" or
// "reject|<reason>".
func (e *Encoder) Result(session, token, verdict string) error {
	return e.writeLine("filter-result", session, token, verdict)
}

func (e *Encoder) writeLine(fields ...string) error {
	if _, err := e.w.WriteString(strings.Join(fields, separator) + "\n"); err != nil {
		return err
	}
	return e.w.Flush()
}
