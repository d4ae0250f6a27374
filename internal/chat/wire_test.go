package chat_test

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dchat-io/dchat/internal/chat"
)

func TestWritePDUThenReadPDU(t *testing.T) {
	t.Parallel()

	pdu := &chat.PDU{
		ContentType:   chat.ContentTypeTextPlain,
		OnionID:       "abcdefghij234567",
		ListeningPort: 9001,
		Nickname:      "alice",
		Content:       []byte("hello, world"),
	}

	var buf bytes.Buffer
	if err := chat.WritePDU(&buf, pdu); err != nil {
		t.Fatalf("WritePDU: %v", err)
	}

	got, err := chat.ReadPDU(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadPDU: %v", err)
	}

	if got.ContentType != pdu.ContentType ||
		got.OnionID != pdu.OnionID ||
		got.ListeningPort != pdu.ListeningPort ||
		got.Nickname != pdu.Nickname ||
		!bytes.Equal(got.Content, pdu.Content) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, pdu)
	}
}

func TestReadPDUEmptyBody(t *testing.T) {
	t.Parallel()

	raw := "Content-Type: control/discover\n" +
		"Content-Length: 0\n" +
		"Onion-ID: abcdefghij234567\n" +
		"Listening-Port: 9001\n" +
		"Nickname: bob\n" +
		"\n"

	pdu, err := chat.ReadPDU(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ReadPDU: %v", err)
	}
	if len(pdu.Content) != 0 {
		t.Errorf("Content = %q, want empty", pdu.Content)
	}
	if pdu.ContentType != chat.ContentTypeControlDiscover {
		t.Errorf("ContentType = %v, want ControlDiscover", pdu.ContentType)
	}
}

func TestReadPDUCleanEOFBeforeAnyHeader(t *testing.T) {
	t.Parallel()

	_, err := chat.ReadPDU(bufio.NewReader(strings.NewReader("")))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("ReadPDU on empty stream: err = %v, want io.EOF", err)
	}
}

func TestReadPDUShortReadMidFrameIsProtocolError(t *testing.T) {
	t.Parallel()

	raw := "Content-Type: text/plain\n" +
		"Content-Length: 100\n" +
		"Onion-ID: abcdefghij234567\n" +
		"Listening-Port: 9001\n" +
		"Nickname: bob\n" +
		"\n" +
		"short"

	_, err := chat.ReadPDU(bufio.NewReader(strings.NewReader(raw)))
	if err == nil {
		t.Fatal("ReadPDU: expected error on short body")
	}
	if errors.Is(err, io.EOF) {
		t.Errorf("ReadPDU short body: err = %v, should not be io.EOF directly", err)
	}
	if !errors.Is(err, chat.ErrProtocol) {
		t.Errorf("ReadPDU short body: err = %v, want ErrProtocol", err)
	}
}

func TestReadPDUMissingHeader(t *testing.T) {
	t.Parallel()

	raw := "Content-Type: text/plain\n" +
		"Content-Length: 0\n" +
		"\n"

	_, err := chat.ReadPDU(bufio.NewReader(strings.NewReader(raw)))
	if !errors.Is(err, chat.ErrProtocol) {
		t.Errorf("ReadPDU missing headers: err = %v, want ErrProtocol", err)
	}
}

func TestReadPDUTooManyHeaders(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 32; i++ {
		b.WriteString("X-Extra: value\n")
	}
	b.WriteString("\n")

	_, err := chat.ReadPDU(bufio.NewReader(strings.NewReader(b.String())))
	if !errors.Is(err, chat.ErrProtocol) {
		t.Errorf("ReadPDU too many headers: err = %v, want ErrProtocol", err)
	}
}

func TestReadPDUUnknownContentType(t *testing.T) {
	t.Parallel()

	raw := "Content-Type: application/octet-stream\n" +
		"Content-Length: 0\n" +
		"Onion-ID: abcdefghij234567\n" +
		"Listening-Port: 9001\n" +
		"Nickname: bob\n" +
		"\n"

	_, err := chat.ReadPDU(bufio.NewReader(strings.NewReader(raw)))
	if !errors.Is(err, chat.ErrProtocol) {
		t.Errorf("ReadPDU unknown content type: err = %v, want ErrProtocol", err)
	}
}

func TestReadPDUUnknownHeadersIgnored(t *testing.T) {
	t.Parallel()

	raw := "Content-Type: text/plain\n" +
		"Content-Length: 2\n" +
		"Onion-ID: abcdefghij234567\n" +
		"Listening-Port: 9001\n" +
		"Nickname: bob\n" +
		"X-Future-Extension: ignored\n" +
		"\n" +
		"hi"

	pdu, err := chat.ReadPDU(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ReadPDU: %v", err)
	}
	if string(pdu.Content) != "hi" {
		t.Errorf("Content = %q, want %q", pdu.Content, "hi")
	}
}

func TestReadPDUContentLengthExceedsMax(t *testing.T) {
	t.Parallel()

	raw := "Content-Type: text/plain\n" +
		"Content-Length: 99999999999\n" +
		"Onion-ID: abcdefghij234567\n" +
		"Listening-Port: 9001\n" +
		"Nickname: bob\n" +
		"\n"

	_, err := chat.ReadPDU(bufio.NewReader(strings.NewReader(raw)))
	if !errors.Is(err, chat.ErrProtocol) {
		t.Errorf("ReadPDU oversized content-length: err = %v, want ErrProtocol", err)
	}
}

func TestReadPDUNonDigitContentLength(t *testing.T) {
	t.Parallel()

	raw := "Content-Type: text/plain\n" +
		"Content-Length: -1\n" +
		"Onion-ID: abcdefghij234567\n" +
		"Listening-Port: 9001\n" +
		"Nickname: bob\n" +
		"\n"

	_, err := chat.ReadPDU(bufio.NewReader(strings.NewReader(raw)))
	if !errors.Is(err, chat.ErrProtocol) {
		t.Errorf("ReadPDU negative content-length: err = %v, want ErrProtocol", err)
	}
}

func TestReadPDUOversizedHeaderLineIsProtocolError(t *testing.T) {
	t.Parallel()

	raw := "X-Extra: " + strings.Repeat("a", 8192) + "\n\n"

	_, err := chat.ReadPDU(bufio.NewReader(strings.NewReader(raw)))
	if !errors.Is(err, chat.ErrProtocol) {
		t.Errorf("ReadPDU oversized header line: err = %v, want ErrProtocol", err)
	}
}

func TestReadPDURejectsWrongLengthOnionID(t *testing.T) {
	t.Parallel()

	raw := "Content-Type: control/discover\n" +
		"Content-Length: 0\n" +
		"Onion-ID: tooshort\n" +
		"Listening-Port: 9001\n" +
		"Nickname: bob\n" +
		"\n"

	_, err := chat.ReadPDU(bufio.NewReader(strings.NewReader(raw)))
	if !errors.Is(err, chat.ErrProtocol) {
		t.Errorf("ReadPDU wrong-length onion-id: err = %v, want ErrProtocol", err)
	}
}

func TestReadPDURejectsEmptyNickname(t *testing.T) {
	t.Parallel()

	raw := "Content-Type: control/discover\n" +
		"Content-Length: 0\n" +
		"Onion-ID: abcdefghij234567\n" +
		"Listening-Port: 9001\n" +
		"Nickname: \n" +
		"\n"

	_, err := chat.ReadPDU(bufio.NewReader(strings.NewReader(raw)))
	if !errors.Is(err, chat.ErrProtocol) {
		t.Errorf("ReadPDU empty nickname: err = %v, want ErrProtocol", err)
	}
}

func TestReadPDURejectsOversizedNickname(t *testing.T) {
	t.Parallel()

	raw := "Content-Type: control/discover\n" +
		"Content-Length: 0\n" +
		"Onion-ID: abcdefghij234567\n" +
		"Listening-Port: 9001\n" +
		"Nickname: " + strings.Repeat("a", chat.MaxNickname+1) + "\n" +
		"\n"

	_, err := chat.ReadPDU(bufio.NewReader(strings.NewReader(raw)))
	if !errors.Is(err, chat.ErrProtocol) {
		t.Errorf("ReadPDU oversized nickname: err = %v, want ErrProtocol", err)
	}
}
