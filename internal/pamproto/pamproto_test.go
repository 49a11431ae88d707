package pamproto_test

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/polkit-go/polkitd/internal/pamproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTightParserRoundTrip sends every message kind, including ones
// carrying the characters Escape/Unescape exists to handle, through
// WriteMessage/ReadMessage and checks every one survives exactly.
func TestTightParserRoundTrip(t *testing.T) {
	cases := []pamproto.Message{
		{Kind: pamproto.PromptEchoOff, Text: "Password: "},
		{Kind: pamproto.PromptEchoOn, Text: "Login: "},
		{Kind: pamproto.ErrorMsg, Text: "Authentication failure"},
		{Kind: pamproto.TextInfo, Text: "Checking password quality"},
		{Kind: pamproto.TextInfo, Text: "line one\nline two"},
		{Kind: pamproto.TextInfo, Text: `backslash \ and tab` + "\t" + "end"},
		{Kind: pamproto.TextInfo, Text: ""},
		{Kind: pamproto.Success},
		{Kind: pamproto.Failure},
	}

	var buf bytes.Buffer
	for _, c := range cases {
		require.NoError(t, pamproto.WriteMessage(&buf, c))
	}

	r := bufio.NewReader(&buf)
	for _, want := range cases {
		got, err := pamproto.ReadMessage(r)
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.Text, got.Text)
	}
}

func TestEscapeNeverProducesALiteralNewline(t *testing.T) {
	escaped := pamproto.Escape("a\nb\\c\x01d")
	assert.NotContains(t, escaped, "\n")
}

func TestUnescapeRejectsTruncatedEscape(t *testing.T) {
	_, err := pamproto.Unescape(`trailing\`)
	assert.Error(t, err)
}

func TestUnescapeRejectsUnknownEscape(t *testing.T) {
	_, err := pamproto.Unescape(`\q`)
	assert.Error(t, err)
}

func TestReadMessageRejectsUnknownKind(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("PAM_SOMETHING_ELSE bogus\n"))
	_, err := pamproto.ReadMessage(r)
	assert.Error(t, err)
}

func TestReadBoundedLineRejectsOversizedLine(t *testing.T) {
	huge := strings.Repeat("a", pamproto.MaxLineLength*2)
	r := bufio.NewReader(strings.NewReader("PAM_TEXT_INFO " + huge + "\n"))
	_, err := pamproto.ReadMessage(r)
	assert.Error(t, err)
}

func TestReadBoundedLineRejectsUnterminatedOversizedStream(t *testing.T) {
	huge := strings.Repeat("a", pamproto.MaxLineLength*4)
	r := bufio.NewReader(strings.NewReader(huge)) // no newline at all
	_, err := pamproto.ReadMessage(r)
	assert.Error(t, err)
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, pamproto.WriteResponse(&buf, "hunter2"))
	r := bufio.NewReader(&buf)
	got, err := pamproto.ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}
