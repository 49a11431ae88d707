// Package pamproto implements the line protocol the privileged
// authentication helper (component G) and the user-session agent speak
// over the helper's stdin/stdout (spec §4.7): one PAM conversation
// message per line, escaped so an embedded newline can never be mistaken
// for the end of the message, terminated by a bare SUCCESS or FAILURE
// line once the PAM stack has produced a final verdict.
package pamproto

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// Kind discriminates the lines of the protocol.
type Kind int

const (
	// PromptEchoOff asks the agent for a line of input that must not be
	// echoed back to the user (a password).
	PromptEchoOff Kind = iota
	// PromptEchoOn asks the agent for a line of input that may be echoed.
	PromptEchoOn
	// ErrorMsg carries a PAM error message for display, no response expected.
	ErrorMsg
	// TextInfo carries a PAM informational message for display, no response expected.
	TextInfo
	// Success is the terminal line reporting the PAM conversation succeeded.
	Success
	// Failure is the terminal line reporting the PAM conversation failed.
	Failure
)

func (k Kind) String() string {
	switch k {
	case PromptEchoOff:
		return "PAM_PROMPT_ECHO_OFF"
	case PromptEchoOn:
		return "PAM_PROMPT_ECHO_ON"
	case ErrorMsg:
		return "PAM_ERROR_MSG"
	case TextInfo:
		return "PAM_TEXT_INFO"
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// IsPrompt reports whether a response line is expected after this message.
func (k Kind) IsPrompt() bool { return k == PromptEchoOff || k == PromptEchoOn }

// IsTerminal reports whether this message ends the conversation.
func (k Kind) IsTerminal() bool { return k == Success || k == Failure }

func kindFromString(s string) (Kind, bool) {
	switch s {
	case "PAM_PROMPT_ECHO_OFF":
		return PromptEchoOff, true
	case "PAM_PROMPT_ECHO_ON":
		return PromptEchoOn, true
	case "PAM_ERROR_MSG":
		return ErrorMsg, true
	case "PAM_TEXT_INFO":
		return TextInfo, true
	case "SUCCESS":
		return Success, true
	case "FAILURE":
		return Failure, true
	default:
		return 0, false
	}
}

// MaxLineLength bounds a single protocol line: the helper runs setuid and
// the agent is unprivileged, so neither side trusts the other to send a
// well-formed, boundedly-sized line.
const MaxLineLength = 8192

// Message is one line of the protocol.
type Message struct {
	Kind Kind
	Text string // empty and unused for Success/Failure
}

// Escape encodes s so it cannot contain a literal newline or be mistaken
// for the end of the line: backslash and newline are backslash-escaped,
// every other control byte is rendered as \xHH.
func Escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			b.WriteString(`\\`)
		case c == '\n':
			b.WriteString(`\n`)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Unescape reverses Escape. A malformed escape sequence is an error rather
// than a best-effort guess, since this text may end up in a PAM prompt
// shown to a human deciding whether to type their password.
func Unescape(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return "", polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("truncated escape sequence"))
		}
		i++
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'x':
			if i+2 >= len(s) {
				return "", polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("truncated \\x escape sequence"))
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", polkiterr.Wrap(polkiterr.KindInvalidRequest, i18n.G("invalid \\x escape sequence"), err)
			}
			b.WriteByte(byte(v))
			i += 2
		default:
			return "", polkiterr.New(polkiterr.KindInvalidRequest, fmt.Sprintf(i18n.G("unknown escape sequence \\%c"), s[i]))
		}
	}
	return b.String(), nil
}

// WriteMessage writes msg as one protocol line.
func WriteMessage(w io.Writer, msg Message) error {
	var line string
	if msg.Kind.IsTerminal() {
		line = msg.Kind.String()
	} else {
		line = msg.Kind.String() + " " + Escape(msg.Text)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// ReadMessage reads and parses one protocol line from r.
func ReadMessage(r *bufio.Reader) (Message, error) {
	line, err := readBoundedLine(r)
	if err != nil {
		return Message{}, err
	}
	kindStr, rest, hasText := strings.Cut(line, " ")
	kind, ok := kindFromString(kindStr)
	if !ok {
		return Message{}, polkiterr.New(polkiterr.KindInvalidRequest, fmt.Sprintf(i18n.G("unknown protocol line kind %q"), kindStr))
	}
	if kind.IsTerminal() {
		return Message{Kind: kind}, nil
	}
	if !hasText {
		rest = ""
	}
	text, err := Unescape(rest)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: kind, Text: text}, nil
}

// WriteResponse writes a prompt response line (the user's typed answer,
// unescaped: the response channel carries exactly what was typed, matching
// how the reference helper reads it with a plain fgets).
func WriteResponse(w io.Writer, response string) error {
	_, err := fmt.Fprintln(w, response)
	return err
}

// ReadResponse reads a prompt response line.
func ReadResponse(r *bufio.Reader) (string, error) {
	return readBoundedLine(r)
}

// readBoundedLine reads a single line, refusing to buffer more than
// MaxLineLength bytes even if the sender never produces a newline — the
// helper runs setuid and must not let an unprivileged peer force it to grow
// an unbounded buffer.
func readBoundedLine(r *bufio.Reader) (string, error) {
	var b strings.Builder
	sawAny := false
	for {
		// ReadSlice only ever returns data already sitting in r's internal
		// buffer, so each iteration grows b by a bounded amount regardless
		// of whether the peer ever sends a newline.
		chunk, err := r.ReadSlice('\n')
		sawAny = sawAny || len(chunk) > 0
		if b.Len()+len(chunk) > MaxLineLength {
			return "", polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("protocol line exceeds maximum length"))
		}
		b.Write(chunk)
		if err == nil {
			break // found the delimiter
		}
		if err == bufio.ErrBufferFull {
			continue // no delimiter yet, but within bounds so far
		}
		if err == io.EOF {
			if !sawAny {
				return "", io.EOF
			}
			break
		}
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(b.String(), "\n"), "\r"), nil
}
