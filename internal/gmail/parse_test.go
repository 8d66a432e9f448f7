package gmail

import (
	"encoding/base64"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

func b64url(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func textPart(mimeType, body string) *MessagePart {
	return &MessagePart{
		MimeType: mimeType,
		Body:     &MessagePartBody{Data: b64url(body), Size: int64(len(body))},
	}
}

func fullMessage() *Message {
	return &Message{
		ID:           "m1",
		ThreadID:     "t1",
		LabelIDs:     []string{"INBOX", "STARRED"},
		Snippet:      "This is a test",
		HistoryID:    42,
		InternalDate: 1704110400000,
		SizeEstimate: 2048,
		Payload: &MessagePart{
			MimeType: "multipart/alternative",
			Headers: []Header{
				{Name: "From", Value: "Alice <alice@example.com>"},
				{Name: "To", Value: "bob@example.com"},
				{Name: "Cc", Value: "carol@example.com"},
				{Name: "Subject", Value: "Lunch plans"},
				{Name: "Date", Value: "Mon, 01 Jan 2024 12:00:00 +0000"},
				{Name: "List-Unsubscribe", Value: "<https://example.com/unsub>"},
			},
			Parts: []*MessagePart{
				textPart("text/plain", "This is a test email body"),
				textPart("text/html", "<p>This is a <b>test</b> email body</p>"),
			},
		},
	}
}

func TestParseMessage(t *testing.T) {
	parsed := ParseMessage(fullMessage())

	if parsed.ID != "m1" || parsed.ThreadID != "t1" {
		t.Errorf("ids = %q/%q, want m1/t1", parsed.ID, parsed.ThreadID)
	}
	if parsed.Sender != "Alice <alice@example.com>" {
		t.Errorf("Sender = %q", parsed.Sender)
	}
	if parsed.Subject != "Lunch plans" {
		t.Errorf("Subject = %q", parsed.Subject)
	}
	if parsed.To != "bob@example.com" || parsed.Cc != "carol@example.com" || parsed.Bcc != "" {
		t.Errorf("recipients = %q/%q/%q", parsed.To, parsed.Cc, parsed.Bcc)
	}
	if parsed.BodyText != "This is a test email body" {
		t.Errorf("BodyText = %q", parsed.BodyText)
	}
	if parsed.BodyHTML != "<p>This is a <b>test</b> email body</p>" {
		t.Errorf("BodyHTML = %q", parsed.BodyHTML)
	}
	if !parsed.IsRead {
		t.Error("IsRead = false, want true (no UNREAD label)")
	}
	if !parsed.IsStarred {
		t.Error("IsStarred = false, want true")
	}
	if parsed.IsDraft {
		t.Error("IsDraft = true, want false")
	}
	if parsed.HasAttachments {
		t.Error("HasAttachments = true, want false")
	}
	if parsed.HistoryID != 42 || parsed.InternalDate != 1704110400000 {
		t.Errorf("HistoryID/InternalDate = %d/%d", parsed.HistoryID, parsed.InternalDate)
	}

	want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if !parsed.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", parsed.Date, want)
	}
	if got := HeaderValue(parsed.Headers, "List-Unsubscribe"); got != "<https://example.com/unsub>" {
		t.Errorf("List-Unsubscribe = %q", got)
	}
}

func TestParseMessage_HTMLOnly(t *testing.T) {
	msg := fullMessage()
	msg.Payload.Parts = []*MessagePart{
		textPart("text/html", "<html><body><p>Hello <b>world</b></p></body></html>"),
	}

	parsed := ParseMessage(msg)
	if parsed.BodyText != "Hello world" {
		t.Errorf("BodyText = %q, want stripped html", parsed.BodyText)
	}
	if parsed.BodyHTML == "" {
		t.Error("BodyHTML should keep the original html")
	}
}

func TestParseMessage_FirstPlainWins(t *testing.T) {
	msg := fullMessage()
	msg.Payload.Parts = []*MessagePart{
		textPart("text/plain", "first body"),
		textPart("text/plain", "second body"),
	}

	parsed := ParseMessage(msg)
	if parsed.BodyText != "first body" {
		t.Errorf("BodyText = %q, want first body", parsed.BodyText)
	}
}

func TestParseMessage_NestedMultipart(t *testing.T) {
	msg := fullMessage()
	msg.Payload.MimeType = "multipart/mixed"
	msg.Payload.Parts = []*MessagePart{
		{
			MimeType: "multipart/alternative",
			Parts: []*MessagePart{
				textPart("text/plain", "nested body"),
				textPart("text/html", "<p>nested body</p>"),
			},
		},
		{
			MimeType: "application/pdf",
			Filename: "receipt.pdf",
			Body:     &MessagePartBody{AttachmentID: "att-1", Size: 5120},
		},
	}

	parsed := ParseMessage(msg)
	if parsed.BodyText != "nested body" {
		t.Errorf("BodyText = %q, want nested body", parsed.BodyText)
	}
	if !parsed.HasAttachments {
		t.Fatal("HasAttachments = false, want true")
	}

	wantAtt := []Attachment{{
		AttachmentID: "att-1",
		Filename:     "receipt.pdf",
		MimeType:     "application/pdf",
		Size:         5120,
	}}
	if diff := cmp.Diff(wantAtt, parsed.Attachments); diff != "" {
		t.Errorf("attachments mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMessage_SinglePartBody(t *testing.T) {
	msg := fullMessage()
	payload := textPart("text/plain", "just plain text")
	payload.Headers = msg.Payload.Headers
	msg.Payload = payload

	parsed := ParseMessage(msg)
	if parsed.BodyText != "just plain text" {
		t.Errorf("BodyText = %q", parsed.BodyText)
	}
}

func TestParseMessage_InvalidUTF8Repaired(t *testing.T) {
	msg := fullMessage()
	body := "caf\xe9 prices going up"
	msg.Payload.Parts = []*MessagePart{textPart("text/plain", body)}

	parsed := ParseMessage(msg)
	if !utf8.ValidString(parsed.BodyText) {
		t.Errorf("BodyText is not valid UTF-8: %q", parsed.BodyText)
	}
	if parsed.BodyText == "" {
		t.Error("BodyText empty, want repaired text")
	}
}

func TestParseMessage_UnparseableDate(t *testing.T) {
	msg := fullMessage()
	msg.Payload.Headers = []Header{
		{Name: "From", Value: "a@example.com"},
		{Name: "Date", Value: "sometime last week"},
	}

	parsed := ParseMessage(msg)
	if !parsed.Date.IsZero() {
		t.Errorf("Date = %v, want zero", parsed.Date)
	}
}

func TestParseMessage_DraftUnread(t *testing.T) {
	msg := fullMessage()
	msg.LabelIDs = []string{"UNREAD", "DRAFT"}

	parsed := ParseMessage(msg)
	if parsed.IsRead {
		t.Error("IsRead = true, want false (UNREAD present)")
	}
	if parsed.IsStarred {
		t.Error("IsStarred = true, want false")
	}
	if !parsed.IsDraft {
		t.Error("IsDraft = false, want true")
	}
}

func TestParseMessageMetadata(t *testing.T) {
	meta := ParseMessageMetadata(&Message{
		ID:        "m9",
		LabelIDs:  []string{"UNREAD", "INBOX"},
		Snippet:   "short preview",
		HistoryID: 123,
	})

	want := &MessageMetadata{
		ID:        "m9",
		LabelIDs:  []string{"UNREAD", "INBOX"},
		IsRead:    false,
		IsStarred: false,
		Snippet:   "short preview",
		HistoryID: 123,
	}
	if diff := cmp.Diff(want, meta); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestHeaderValue(t *testing.T) {
	headers := map[string]string{
		"Subject":      "hello",
		"content-type": "text/plain",
	}

	if got := HeaderValue(headers, "Subject"); got != "hello" {
		t.Errorf("exact lookup = %q", got)
	}
	if got := HeaderValue(headers, "Content-Type"); got != "text/plain" {
		t.Errorf("case-insensitive lookup = %q", got)
	}
	if got := HeaderValue(headers, "Missing"); got != "" {
		t.Errorf("missing header = %q, want empty", got)
	}
}

func TestHTMLToText(t *testing.T) {
	in := `<html><head><style>p{color:red}</style></head>` +
		`<body><p>Hello <b>world</b></p><script>var x = 1;</script><div>bye</div></body></html>`

	if got := HTMLToText(in); got != "Hello world bye" {
		t.Errorf("HTMLToText() = %q, want %q", got, "Hello world bye")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantZero bool
	}{
		{name: "RFC1123Z", in: "Mon, 01 Jan 2024 12:00:00 +0000"},
		{name: "NoWeekday", in: "1 Jan 2024 12:00:00 +0000"},
		{name: "NamedZone", in: "Mon, 01 Jan 2024 12:00:00 GMT"},
		{name: "ZoneComment", in: "Tue, 23 Jan 2024 10:00:00 +0100 (CET)"},
		{name: "ISO8601", in: "2024-01-23T10:00:00Z"},
		{name: "Garbage", in: "sometime last week", wantZero: true},
		{name: "Empty", in: "", wantZero: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDate(tt.in)
			if got.IsZero() != tt.wantZero {
				t.Errorf("parseDate(%q) = %v, wantZero=%v", tt.in, got, tt.wantZero)
			}
		})
	}
}
