package testutil

import (
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/store"
)

// EmailBuilder provides a fluent API for constructing store.Email in tests.
type EmailBuilder struct {
	e store.Email
}

// NewEmail creates a builder with sensible defaults.
func NewEmail(gmailID string) *EmailBuilder {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &EmailBuilder{
		e: store.Email{
			GmailID:      gmailID,
			ThreadID:     "thread-" + gmailID,
			Subject:      "Test Subject",
			Sender:       "Sender <sender@example.com>",
			RecipientsTo: "me@example.com",
			DateISO:      date.Format(time.RFC3339),
			DateTS:       date.Unix(),
			InternalDate: date.UnixMilli(),
			Labels:       "|INBOX|",
		},
	}
}

func (b *EmailBuilder) WithThread(id string) *EmailBuilder {
	b.e.ThreadID = id
	return b
}

func (b *EmailBuilder) WithSubject(s string) *EmailBuilder {
	b.e.Subject = s
	return b
}

func (b *EmailBuilder) WithSender(s string) *EmailBuilder {
	b.e.Sender = s
	return b
}

func (b *EmailBuilder) WithRecipients(to string) *EmailBuilder {
	b.e.RecipientsTo = to
	return b
}

func (b *EmailBuilder) WithSnippet(s string) *EmailBuilder {
	b.e.Snippet = s
	return b
}

// WithDate sets the parsed date fields and the internal date together.
func (b *EmailBuilder) WithDate(t time.Time) *EmailBuilder {
	b.e.DateISO = t.Format(time.RFC3339)
	b.e.DateTS = t.Unix()
	b.e.InternalDate = t.UnixMilli()
	return b
}

func (b *EmailBuilder) WithRead(read bool) *EmailBuilder {
	b.e.IsRead = read
	return b
}

func (b *EmailBuilder) WithStarred(starred bool) *EmailBuilder {
	b.e.IsStarred = starred
	return b
}

// WithLabels sets the pipe-bracketed label list. No arguments clears it.
func (b *EmailBuilder) WithLabels(labels ...string) *EmailBuilder {
	if len(labels) == 0 {
		b.e.Labels = ""
		return b
	}
	b.e.Labels = "|" + strings.Join(labels, "|") + "|"
	return b
}

func (b *EmailBuilder) WithCategory(c string) *EmailBuilder {
	b.e.Category = c
	return b
}

func (b *EmailBuilder) WithListUnsubscribe(v string) *EmailBuilder {
	b.e.ListUnsubscribe = v
	return b
}

func (b *EmailBuilder) WithAttachments(has bool) *EmailBuilder {
	b.e.HasAttachments = has
	return b
}

func (b *EmailBuilder) WithSize(sz int64) *EmailBuilder {
	b.e.SizeEstimate = sz
	return b
}

func (b *EmailBuilder) WithHistoryID(id uint64) *EmailBuilder {
	b.e.HistoryID = id
	return b
}

func (b *EmailBuilder) WithDocument(doc string) *EmailBuilder {
	b.e.Document = doc
	return b
}

func (b *EmailBuilder) WithEmbedding(vec []float32) *EmailBuilder {
	b.e.Embedding = vec
	return b
}

// WithActionItems sets the extracted action item JSON and its flags.
func (b *EmailBuilder) WithActionItems(itemsJSON string) *EmailBuilder {
	b.e.ActionsExtracted = true
	b.e.ActionItemsJSON = itemsJSON
	b.e.HasActionItems = itemsJSON != "" && itemsJSON != "[]"
	return b
}

// WithSpending sets the extracted transaction JSON and its flags.
func (b *EmailBuilder) WithSpending(spendingJSON string) *EmailBuilder {
	b.e.SpendingJSON = spendingJSON
	b.e.HasTransactions = spendingJSON != "" && spendingJSON != "[]"
	return b
}

func (b *EmailBuilder) WithLLMCategorized(v bool) *EmailBuilder {
	b.e.LLMCategorized = v
	return b
}

func (b *EmailBuilder) Build() store.Email {
	return b.e
}

// BuildPtr returns a pointer to the constructed Email.
func (b *EmailBuilder) BuildPtr() *store.Email {
	e := b.e
	return &e
}
