package smtp

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/nhle/mailmirror/internal/backend"
)

func TestExtractAddresses(t *testing.T) {
	body := []byte("Message-Id: <m1@x>\r\n" +
		"From: Alice <alice@example.com>\r\n" +
		"To: Bob <bob@example.com>, carol@example.com\r\n" +
		"Cc: dave@example.com\r\n" +
		"Bcc: bob@example.com\r\n" +
		"Subject: hi\r\n" +
		"\r\n" +
		"hello\r\n")

	from, rcpts, err := extractAddresses(body)
	if err != nil {
		t.Fatal(err)
	}
	if from != "alice@example.com" {
		t.Errorf("from = %q", from)
	}
	// Recipients are deduplicated across To/Cc/Bcc.
	want := []string{"bob@example.com", "carol@example.com", "dave@example.com"}
	if !reflect.DeepEqual(rcpts, want) {
		t.Errorf("rcpts = %v, want %v", rcpts, want)
	}
}

func TestExtractAddressesRejectsHeaderlessMessage(t *testing.T) {
	body := []byte("Subject: hi\r\n\r\nno sender\r\n")
	if _, _, err := extractAddresses(body); err == nil {
		t.Error("message without a From address accepted")
	}
}

func TestSendOnlyCapabilities(t *testing.T) {
	b := New("out", Config{Host: "localhost", Port: 25})

	caps := b.Capabilities()
	if !caps.Has(backend.CanAddMessage) {
		t.Error("AddMessage capability missing")
	}
	if caps.Has(backend.CanListFolders) || caps.Has(backend.CanListEnvelopes) {
		t.Error("send-only backend advertises sync capabilities")
	}

	if _, err := b.ListFolders(context.Background()); !errors.Is(err, backend.ErrNotSupported) {
		t.Errorf("ListFolders = %v, want ErrNotSupported", err)
	}
}
