package gmail

import (
	"net/mail"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/mailsift/mailsift/internal/textutil"
)

// ParsedEmail is a flattened view of a full-format message: headers
// resolved, bodies decoded, attachments collected.
type ParsedEmail struct {
	ID             string
	ThreadID       string
	Subject        string
	Sender         string
	To             string
	Cc             string
	Bcc            string
	Date           time.Time // zero when the Date header is missing or unparseable
	InternalDate   int64     // ms since epoch, as reported by Gmail
	Snippet        string
	BodyText       string
	BodyHTML       string
	Headers        map[string]string
	SizeEstimate   int64
	IsRead         bool
	IsStarred      bool
	IsDraft        bool
	HasAttachments bool
	HistoryID      uint64
	LabelIDs       []string
	Attachments    []Attachment
}

// Attachment describes one attachment part. The content itself is fetched
// separately via GetAttachment.
type Attachment struct {
	AttachmentID string
	Filename     string
	MimeType     string
	Size         int64
}

// MessageMetadata is the slim view produced from format=metadata fetches,
// enough to refresh labels and read/starred state.
type MessageMetadata struct {
	ID        string
	LabelIDs  []string
	IsRead    bool
	IsStarred bool
	Snippet   string
	HistoryID uint64
}

// ParseMessage flattens a full-format message. Bodies are base64url-decoded
// and repaired to valid UTF-8; when no text/plain part exists the first
// text/html part is stripped to plain text.
func ParseMessage(msg *Message) *ParsedEmail {
	headers := collectHeaders(msg.Payload)
	bodyText, bodyHTML := extractBody(msg.Payload)
	attachments := extractAttachments(msg.Payload)

	parsed := &ParsedEmail{
		ID:             msg.ID,
		ThreadID:       msg.ThreadID,
		Subject:        HeaderValue(headers, "Subject"),
		Sender:         HeaderValue(headers, "From"),
		To:             HeaderValue(headers, "To"),
		Cc:             HeaderValue(headers, "Cc"),
		Bcc:            HeaderValue(headers, "Bcc"),
		InternalDate:   msg.InternalDate,
		Snippet:        msg.Snippet,
		BodyText:       bodyText,
		BodyHTML:       bodyHTML,
		Headers:        headers,
		SizeEstimate:   msg.SizeEstimate,
		IsRead:         !hasLabel(msg.LabelIDs, "UNREAD"),
		IsStarred:      hasLabel(msg.LabelIDs, "STARRED"),
		IsDraft:        hasLabel(msg.LabelIDs, "DRAFT"),
		HasAttachments: len(attachments) > 0,
		HistoryID:      msg.HistoryID,
		LabelIDs:       msg.LabelIDs,
		Attachments:    attachments,
	}

	if dateStr := HeaderValue(headers, "Date"); dateStr != "" {
		parsed.Date = parseDate(dateStr)
	}
	return parsed
}

// ParseMessageMetadata flattens a metadata-format message.
func ParseMessageMetadata(msg *Message) *MessageMetadata {
	return &MessageMetadata{
		ID:        msg.ID,
		LabelIDs:  msg.LabelIDs,
		IsRead:    !hasLabel(msg.LabelIDs, "UNREAD"),
		IsStarred: hasLabel(msg.LabelIDs, "STARRED"),
		Snippet:   msg.Snippet,
		HistoryID: msg.HistoryID,
	}
}

// HeaderValue looks up a header by exact name first, then case-insensitively.
func HeaderValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func collectHeaders(payload *MessagePart) map[string]string {
	headers := make(map[string]string)
	if payload == nil {
		return headers
	}
	for _, h := range payload.Headers {
		headers[h.Name] = h.Value
	}
	return headers
}

func hasLabel(labelIDs []string, label string) bool {
	for _, l := range labelIDs {
		if l == label {
			return true
		}
	}
	return false
}

// extractBody walks the part tree collecting the first text/plain and first
// text/html bodies. Multipart children are searched only when the slot is
// still empty. A message with HTML but no plain text gets the HTML stripped
// to text.
func extractBody(payload *MessagePart) (string, string) {
	bodyText, bodyHTML := walkBody(payload)
	if bodyText == "" && bodyHTML != "" {
		bodyText = HTMLToText(bodyHTML)
	}
	return bodyText, bodyHTML
}

func walkBody(payload *MessagePart) (string, string) {
	if payload == nil {
		return "", ""
	}

	var bodyText, bodyHTML string
	if len(payload.Parts) > 0 {
		for _, part := range payload.Parts {
			switch {
			case part.MimeType == "text/plain":
				if bodyText == "" {
					bodyText = decodePartBody(part.Body)
				}
			case part.MimeType == "text/html":
				if bodyHTML == "" {
					bodyHTML = decodePartBody(part.Body)
				}
			case strings.HasPrefix(part.MimeType, "multipart/"):
				t, h := walkBody(part)
				if bodyText == "" {
					bodyText = t
				}
				if bodyHTML == "" {
					bodyHTML = h
				}
			}
		}
		return bodyText, bodyHTML
	}

	switch payload.MimeType {
	case "text/plain":
		bodyText = decodePartBody(payload.Body)
	case "text/html":
		bodyHTML = decodePartBody(payload.Body)
	}
	return bodyText, bodyHTML
}

func decodePartBody(body *MessagePartBody) string {
	if body == nil || body.Data == "" {
		return ""
	}
	raw, err := decodeBase64URL(body.Data)
	if err != nil {
		return ""
	}
	return textutil.EnsureUTF8(string(raw))
}

func extractAttachments(payload *MessagePart) []Attachment {
	if payload == nil {
		return nil
	}
	var attachments []Attachment
	for _, part := range payload.Parts {
		if part.Filename != "" {
			att := Attachment{
				Filename: part.Filename,
				MimeType: part.MimeType,
			}
			if part.Body != nil {
				att.AttachmentID = part.Body.AttachmentID
				att.Size = part.Body.Size
			}
			attachments = append(attachments, att)
		}
		if len(part.Parts) > 0 {
			attachments = append(attachments, extractAttachments(part)...)
		}
	}
	return attachments
}

var fallbackDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339,
}

// parseDate parses an RFC 5322 Date header leniently, falling back to common
// malformed variants. Returns the zero time when nothing matches.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if t, err := mail.ParseDate(s); err == nil {
		return t
	}
	for _, layout := range fallbackDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// HTMLToText strips tags from an HTML document, joining text fragments with
// single spaces. Script and style contents are dropped.
func HTMLToText(s string) string {
	tok := html.NewTokenizer(strings.NewReader(s))
	var parts []string
	skip := 0
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return strings.Join(parts, " ")
		case html.StartTagToken:
			name, _ := tok.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if text := strings.TrimSpace(string(tok.Text())); text != "" {
				parts = append(parts, text)
			}
		}
	}
}
