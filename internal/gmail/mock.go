package gmail

import (
	"context"
	"fmt"
	"sync"
)

// MockAPI is a mock implementation of the Gmail API for testing.
type MockAPI struct {
	mu sync.Mutex

	// Profile to return
	Profile *Profile

	// Labels to return
	Labels []*Label

	// Messages indexed by ID
	Messages map[string]*Message

	// Message list pages - each page is a list of message IDs
	MessagePages [][]string

	// History records
	HistoryRecords []HistoryRecord
	HistoryID      uint64

	// Threads indexed by ID
	Threads []*ThreadStub

	// Attachment payloads keyed "messageID/attachmentID"
	Attachments map[string]*AttachmentBody

	// Error injection
	ProfileError      error
	LabelsError       error
	ListMessagesError error
	GetMessageError   map[string]error // Per-message errors
	HistoryError      error
	BatchError        error

	// BatchFailIDs marks ids that BatchGetMessages reports as failed.
	BatchFailIDs map[string]bool

	// Call tracking for assertions
	ProfileCalls      int
	LabelsCalls       int
	ListMessagesCalls int
	LastQuery         string   // Last query passed to ListMessages
	LastLabelIDs      []string // Last labelIDs passed to ListMessages
	GetMessageCalls   []string
	BatchGetCalls     [][]string
	LastBatchFormat   Format
	HistoryCalls      []uint64
	ModifyCalls       []ModifyCall
	TrashCalls        []string
	CreatedLabels     []string
	UpdatedLabels     []string
	DeletedLabels     []string
	TrashedThreads    []string
}

// ModifyCall records one ModifyMessage invocation.
type ModifyCall struct {
	MessageID    string
	AddLabels    []string
	RemoveLabels []string
}

// NewMockAPI creates a new mock API with empty state.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Messages:        make(map[string]*Message),
		Attachments:     make(map[string]*AttachmentBody),
		GetMessageError: make(map[string]error),
		BatchFailIDs:    make(map[string]bool),
	}
}

// GetProfile returns the mock profile.
func (m *MockAPI) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++

	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	if m.Profile == nil {
		return &Profile{
			EmailAddress:  "test@example.com",
			MessagesTotal: int64(len(m.Messages)),
			HistoryID:     m.HistoryID,
		}, nil
	}
	return m.Profile, nil
}

// ListMessages returns mock message stubs with pagination.
func (m *MockAPI) ListMessages(ctx context.Context, query string, labelIDs []string, pageToken string, maxResults int64) (*MessageListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls++
	m.LastQuery = query
	m.LastLabelIDs = append([]string(nil), labelIDs...)

	if m.ListMessagesError != nil {
		return nil, m.ListMessagesError
	}

	pageNum := 0
	if pageToken != "" {
		if _, err := fmt.Sscanf(pageToken, "page_%d", &pageNum); err != nil {
			return nil, fmt.Errorf("invalid page token: %s", pageToken)
		}
	}

	if len(m.MessagePages) == 0 {
		// Return all messages if no pages configured
		var messages []MessageID
		for id, msg := range m.Messages {
			messages = append(messages, MessageID{ID: id, ThreadID: msg.ThreadID})
		}
		return &MessageListResponse{
			Messages:           messages,
			ResultSizeEstimate: int64(len(messages)),
		}, nil
	}

	if pageNum >= len(m.MessagePages) {
		return &MessageListResponse{}, nil
	}

	page := m.MessagePages[pageNum]
	messages := make([]MessageID, len(page))
	for i, id := range page {
		messages[i] = MessageID{ID: id, ThreadID: m.threadIDFor(id)}
	}

	var nextPageToken string
	if pageNum+1 < len(m.MessagePages) {
		nextPageToken = fmt.Sprintf("page_%d", pageNum+1)
	}

	total := int64(0)
	for _, p := range m.MessagePages {
		total += int64(len(p))
	}

	return &MessageListResponse{
		Messages:           messages,
		NextPageToken:      nextPageToken,
		ResultSizeEstimate: total,
	}, nil
}

// GetMessage returns a mock message.
func (m *MockAPI) GetMessage(ctx context.Context, messageID string, format Format) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getMessageLocked(messageID)
}

func (m *MockAPI) getMessageLocked(messageID string) (*Message, error) {
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)

	if err, ok := m.GetMessageError[messageID]; ok && err != nil {
		return nil, err
	}

	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	return msg, nil
}

// BatchGetMessages fetches multiple messages. Ids marked in BatchFailIDs,
// missing ids, and ids with injected errors are reported in the failed list
// rather than failing the batch, mirroring the real client.
func (m *MockAPI) BatchGetMessages(ctx context.Context, messageIDs []string, format Format) ([]*Message, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchGetCalls = append(m.BatchGetCalls, append([]string(nil), messageIDs...))
	m.LastBatchFormat = format

	if m.BatchError != nil {
		return nil, nil, m.BatchError
	}

	var messages []*Message
	var failed []string
	for _, id := range messageIDs {
		if m.BatchFailIDs[id] {
			failed = append(failed, id)
			continue
		}
		if err, ok := m.GetMessageError[id]; ok && err != nil {
			failed = append(failed, id)
			continue
		}
		msg, ok := m.Messages[id]
		if !ok {
			failed = append(failed, id)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, failed, nil
}

// ListHistory returns mock history records.
func (m *MockAPI) ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryCalls = append(m.HistoryCalls, startHistoryID)

	if m.HistoryError != nil {
		return nil, m.HistoryError
	}

	return &HistoryResponse{
		History:   m.HistoryRecords,
		HistoryID: m.HistoryID,
	}, nil
}

// ModifyMessage records the call and applies the label change to the stored
// message when present.
func (m *MockAPI) ModifyMessage(ctx context.Context, messageID string, addLabels, removeLabels []string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModifyCalls = append(m.ModifyCalls, ModifyCall{
		MessageID:    messageID,
		AddLabels:    append([]string(nil), addLabels...),
		RemoveLabels: append([]string(nil), removeLabels...),
	})

	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	msg.LabelIDs = applyLabelChange(msg.LabelIDs, addLabels, removeLabels)
	return msg, nil
}

// TrashMessage records a trash call and moves the stored message to TRASH.
func (m *MockAPI) TrashMessage(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TrashCalls = append(m.TrashCalls, messageID)

	if msg, ok := m.Messages[messageID]; ok {
		msg.LabelIDs = applyLabelChange(msg.LabelIDs, []string{"TRASH"}, []string{"INBOX"})
	}
	return nil
}

// ListLabels returns the mock labels.
func (m *MockAPI) ListLabels(ctx context.Context) ([]*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LabelsCalls++

	if m.LabelsError != nil {
		return nil, m.LabelsError
	}
	if m.Labels == nil {
		return []*Label{
			{ID: "INBOX", Name: "INBOX", Type: "system"},
			{ID: "SENT", Name: "SENT", Type: "system"},
		}, nil
	}
	return m.Labels, nil
}

// GetLabel returns a mock label by id.
func (m *MockAPI) GetLabel(ctx context.Context, labelID string) (*Label, error) {
	labels, err := m.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range labels {
		if l.ID == labelID {
			return l, nil
		}
	}
	return nil, &NotFoundError{Path: "/labels/" + labelID}
}

// CreateLabel records the call and appends a user label.
func (m *MockAPI) CreateLabel(ctx context.Context, name string) (*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreatedLabels = append(m.CreatedLabels, name)

	label := &Label{ID: "Label_" + name, Name: name, Type: "user"}
	m.Labels = append(m.Labels, label)
	return label, nil
}

// UpdateLabel records the call and renames the stored label.
func (m *MockAPI) UpdateLabel(ctx context.Context, labelID, name string) (*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdatedLabels = append(m.UpdatedLabels, labelID)

	for _, l := range m.Labels {
		if l.ID == labelID {
			l.Name = name
			return l, nil
		}
	}
	return nil, &NotFoundError{Path: "/labels/" + labelID}
}

// DeleteLabel records the call and removes the stored label.
func (m *MockAPI) DeleteLabel(ctx context.Context, labelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeletedLabels = append(m.DeletedLabels, labelID)

	for i, l := range m.Labels {
		if l.ID == labelID {
			m.Labels = append(m.Labels[:i], m.Labels[i+1:]...)
			return nil
		}
	}
	return nil
}

// ListThreads returns the configured thread stubs.
func (m *MockAPI) ListThreads(ctx context.Context, query string, maxResults int64) ([]*ThreadStub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	threads := m.Threads
	if maxResults > 0 && int64(len(threads)) > maxResults {
		threads = threads[:maxResults]
	}
	return threads, nil
}

// GetThread assembles a thread from stored messages sharing the thread id.
func (m *MockAPI) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread := &Thread{ID: threadID}
	for _, msg := range m.Messages {
		if msg.ThreadID == threadID {
			thread.Messages = append(thread.Messages, msg)
		}
	}
	if len(thread.Messages) == 0 {
		return nil, &NotFoundError{Path: "/threads/" + threadID}
	}
	return thread, nil
}

// ModifyThread applies the label change to every message in the thread.
func (m *MockAPI) ModifyThread(ctx context.Context, threadID string, addLabels, removeLabels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.Messages {
		if msg.ThreadID == threadID {
			msg.LabelIDs = applyLabelChange(msg.LabelIDs, addLabels, removeLabels)
		}
	}
	return nil
}

// TrashThread records a thread trash call.
func (m *MockAPI) TrashThread(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TrashedThreads = append(m.TrashedThreads, threadID)

	for _, msg := range m.Messages {
		if msg.ThreadID == threadID {
			msg.LabelIDs = applyLabelChange(msg.LabelIDs, []string{"TRASH"}, []string{"INBOX"})
		}
	}
	return nil
}

// GetAttachment returns a configured attachment payload.
func (m *MockAPI) GetAttachment(ctx context.Context, messageID, attachmentID string) (*AttachmentBody, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	att, ok := m.Attachments[messageID+"/"+attachmentID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID + "/attachments/" + attachmentID}
	}
	return att, nil
}

// DownloadAttachment returns the decoded attachment bytes.
func (m *MockAPI) DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	att, err := m.GetAttachment(ctx, messageID, attachmentID)
	if err != nil {
		return nil, err
	}
	return decodeBase64URL(att.Data)
}

// Close is a no-op for the mock.
func (m *MockAPI) Close() error {
	return nil
}

func (m *MockAPI) threadIDFor(id string) string {
	if msg, ok := m.Messages[id]; ok && msg.ThreadID != "" {
		return msg.ThreadID
	}
	return "thread_" + id
}

// SetupMessages adds pre-built messages to the mock store in a thread-safe
// manner. Nil entries are silently skipped.
func (m *MockAPI) SetupMessages(msgs ...*Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Messages == nil {
		m.Messages = make(map[string]*Message)
	}
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		m.Messages[msg.ID] = msg
	}
}

// Reset clears all state and call tracking.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Messages = make(map[string]*Message)
	m.MessagePages = nil
	m.HistoryRecords = nil
	m.Threads = nil
	m.Attachments = make(map[string]*AttachmentBody)
	m.GetMessageError = make(map[string]error)
	m.BatchFailIDs = make(map[string]bool)

	m.ProfileCalls = 0
	m.LabelsCalls = 0
	m.ListMessagesCalls = 0
	m.LastQuery = ""
	m.LastLabelIDs = nil
	m.GetMessageCalls = nil
	m.BatchGetCalls = nil
	m.HistoryCalls = nil
	m.ModifyCalls = nil
	m.TrashCalls = nil
	m.CreatedLabels = nil
	m.UpdatedLabels = nil
	m.DeletedLabels = nil
	m.TrashedThreads = nil
}

func applyLabelChange(labels, add, remove []string) []string {
	out := make([]string, 0, len(labels)+len(add))
	removed := make(map[string]bool, len(remove))
	for _, l := range remove {
		removed[l] = true
	}
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if removed[l] || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	for _, l := range add {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

// Ensure MockAPI implements API interface.
var _ API = (*MockAPI)(nil)
