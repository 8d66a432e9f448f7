// Package gmail provides a hand-rolled Gmail REST client with rate limiting,
// retry logic, batched fetching, and payload parsing.
package gmail

import "context"

// Format selects how much of a message Gmail returns.
type Format string

const (
	FormatFull     Format = "full"
	FormatMetadata Format = "metadata"
	FormatMinimal  Format = "minimal"
)

// ProfileReader provides access to the authenticated account's profile.
type ProfileReader interface {
	// GetProfile returns the authenticated user's profile.
	GetProfile(ctx context.Context) (*Profile, error)
}

// MessageLister lists message stubs matching a query.
type MessageLister interface {
	// ListMessages returns one page of message IDs matching the query,
	// optionally restricted to messages carrying all of labelIDs.
	// maxResults is clamped to 500; zero means 500. Use pageToken for
	// pagination; NextPageToken is set when more results exist.
	ListMessages(ctx context.Context, query string, labelIDs []string, pageToken string, maxResults int64) (*MessageListResponse, error)
}

// MessageGetter fetches message content.
type MessageGetter interface {
	// GetMessage fetches a single message in the given format.
	GetMessage(ctx context.Context, messageID string, format Format) (*Message, error)

	// BatchGetMessages fetches many messages through the batch endpoint.
	// Successful results come back in input order; ids that failed
	// permanently (after the rate-limit retry passes) are returned
	// separately and do not fail the batch.
	BatchGetMessages(ctx context.Context, messageIDs []string, format Format) ([]*Message, []string, error)
}

// HistoryLister reads the mailbox change journal.
type HistoryLister interface {
	// ListHistory returns changes since the given history ID.
	ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryResponse, error)
}

// MessageModifier provides write operations on individual messages.
type MessageModifier interface {
	// ModifyMessage adds and removes labels on a message.
	ModifyMessage(ctx context.Context, messageID string, addLabels, removeLabels []string) (*Message, error)

	// TrashMessage moves a message to trash (recoverable for 30 days).
	TrashMessage(ctx context.Context, messageID string) error
}

// LabelManager manages the label catalog.
type LabelManager interface {
	// ListLabels returns all labels for the account.
	ListLabels(ctx context.Context) ([]*Label, error)

	// GetLabel returns one label with its message counts.
	GetLabel(ctx context.Context, labelID string) (*Label, error)

	// CreateLabel creates a user label with the given display name.
	CreateLabel(ctx context.Context, name string) (*Label, error)

	// UpdateLabel renames a user label.
	UpdateLabel(ctx context.Context, labelID, name string) (*Label, error)

	// DeleteLabel removes a user label.
	DeleteLabel(ctx context.Context, labelID string) error
}

// ThreadReader provides thread-level operations.
type ThreadReader interface {
	// ListThreads returns up to maxResults thread stubs matching the query.
	ListThreads(ctx context.Context, query string, maxResults int64) ([]*ThreadStub, error)

	// GetThread fetches a thread with its messages.
	GetThread(ctx context.Context, threadID string) (*Thread, error)

	// ModifyThread adds and removes labels on every message in a thread.
	ModifyThread(ctx context.Context, threadID string, addLabels, removeLabels []string) error

	// TrashThread moves a whole thread to trash.
	TrashThread(ctx context.Context, threadID string) error
}

// AttachmentGetter fetches attachment bodies.
type AttachmentGetter interface {
	// GetAttachment returns the attachment body resource (still encoded).
	GetAttachment(ctx context.Context, messageID, attachmentID string) (*AttachmentBody, error)

	// DownloadAttachment returns the decoded attachment bytes.
	DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// API defines the full Gmail surface the rest of the system depends on.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	ProfileReader
	MessageLister
	MessageGetter
	HistoryLister
	MessageModifier
	LabelManager
	ThreadReader
	AttachmentGetter

	// Close releases any resources held by the client.
	Close() error
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
	HistoryID     uint64
}

// Label represents a Gmail label.
type Label struct {
	ID                    string
	Name                  string
	Type                  string // "system" or "user"
	MessagesTotal         int64
	MessagesUnread        int64
	MessageListVisibility string
	LabelListVisibility   string
}

// MessageListResponse contains a page of message IDs.
type MessageListResponse struct {
	Messages           []MessageID
	NextPageToken      string
	ResultSizeEstimate int64
}

// MessageID represents a message reference from list operations.
type MessageID struct {
	ID       string
	ThreadID string
}

// Message is the structured Gmail message resource (format full/metadata).
type Message struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	HistoryID    uint64
	InternalDate int64 // Unix milliseconds
	SizeEstimate int64
	Payload      *MessagePart
}

// MessagePart is one node of a message's MIME part tree.
type MessagePart struct {
	PartID   string
	MimeType string
	Filename string
	Headers  []Header
	Body     *MessagePartBody
	Parts    []*MessagePart
}

// Header is a single message header.
type Header struct {
	Name  string
	Value string
}

// MessagePartBody holds the content of a part: inline base64url data, or an
// attachment reference when the content lives behind the attachments API.
type MessagePartBody struct {
	AttachmentID string
	Size         int64
	Data         string // base64url, possibly unpadded
}

// AttachmentBody is the attachments.get resource.
type AttachmentBody struct {
	Size int64
	Data string // base64url, possibly unpadded
}

// ThreadStub is a thread reference from list operations.
type ThreadStub struct {
	ID        string
	Snippet   string
	HistoryID uint64
}

// Thread is a full thread with messages.
type Thread struct {
	ID        string
	HistoryID uint64
	Messages  []*Message
}

// HistoryResponse contains changes since a history ID.
type HistoryResponse struct {
	History       []HistoryRecord
	NextPageToken string
	HistoryID     uint64
}

// HistoryRecord represents a single history change.
type HistoryRecord struct {
	ID              uint64
	MessagesAdded   []HistoryMessage
	MessagesDeleted []HistoryMessage
	LabelsAdded     []HistoryLabelChange
	LabelsRemoved   []HistoryLabelChange
}

// HistoryMessage represents a message in history.
type HistoryMessage struct {
	Message MessageID
}

// HistoryLabelChange represents a label change in history.
type HistoryLabelChange struct {
	Message  MessageID
	LabelIDs []string
}
