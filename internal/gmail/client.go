package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultBaseURL  = "https://gmail.googleapis.com/gmail/v1"
	defaultBatchURL = "https://www.googleapis.com/batch/gmail/v1"
	maxRetries      = 12  // Covers ~10 minutes of network outages
	maxBackoff      = 600 // Max backoff in seconds
)

// Client implements the Gmail API interface.
type Client struct {
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *slog.Logger
	clock       Clock
	baseURL     string
	batchURL    string
	userID      string // "me" for authenticated user
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimiter sets a custom rate limiter.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) {
		c.rateLimiter = rl
	}
}

// WithBaseURL points the client at a different API root. Tests point this at
// an httptest server.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithBatchURL points the batch endpoint at a different root.
func WithBatchURL(u string) ClientOption {
	return func(c *Client) {
		c.batchURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the OAuth-wrapped HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock sets the clock used for backoff sleeps. Tests inject a fake to
// observe and skip the waits.
func WithClock(clk Clock) ClientOption {
	return func(c *Client) {
		c.clock = clk
	}
}

// NewClient creates a new Gmail API client.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		userID:   "me",
		logger:   slog.Default(),
		clock:    realClock{},
		baseURL:  defaultBaseURL,
		batchURL: defaultBatchURL,
	}
	if tokenSource != nil {
		c.httpClient = oauth2.NewClient(context.Background(), tokenSource)
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(5.0)
	}

	return c
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	// HTTP client doesn't need explicit closing
	return nil
}

// sleep waits for d or until the context is cancelled.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

// request makes an HTTP request with rate limiting and retry logic.
// bodyBytes can be nil for requests without a body.
func (c *Client) request(ctx context.Context, op Operation, method, path string, bodyBytes []byte) ([]byte, error) {
	// Acquire rate limit tokens
	if err := c.rateLimiter.Acquire(ctx, op); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	reqURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt)
			c.logger.Debug("retrying request", "attempt", attempt, "backoff", backoff, "path", path)

			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		// Create a new reader for each attempt to ensure body can be re-read on retry
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue // Retry on network errors
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Check for success
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		// Handle specific error codes
		switch resp.StatusCode {
		case 429: // Rate limited
			// Debug level: rate limiting is expected during high-volume
			// syncs and the retry logic handles it automatically.
			c.logger.Debug("rate limited, backing off 30s", "path", path, "attempt", attempt)
			c.rateLimiter.Throttle(30 * time.Second)
			lastErr = &RateLimitError{StatusCode: 429, RetryAfter: 30 * time.Second}
			continue

		case 403: // Could be rate limit or permission error
			// Gmail returns 403 with a rateLimitExceeded reason for quota
			// exhaustion instead of 429.
			if isRateLimitBody(respBody) {
				c.logger.Debug("quota exceeded, backing off 60s", "path", path, "attempt", attempt)
				c.rateLimiter.Throttle(60 * time.Second)
				lastErr = &RateLimitError{StatusCode: 403, RetryAfter: 60 * time.Second}
				continue
			}
			// Actual permission error - don't retry
			return nil, &PermanentError{StatusCode: 403, Body: string(respBody)}

		case 500, 502, 503, 504: // Server errors
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue

		case 401: // Unauthorized - token might be expired
			// oauth2.Client should auto-refresh, but if it fails, don't retry
			return nil, fmt.Errorf("unauthorized (401): token may be invalid")

		case 404: // Not found
			return nil, &NotFoundError{Path: path}

		default: // Other client errors - don't retry
			return nil, &PermanentError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns the backoff duration for a retry attempt.
// Uses exponential backoff with full jitter.
func calculateBackoff(attempt int) time.Duration {
	// Exponential: 1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 600, 600...
	base := float64(uint(1) << uint(attempt))
	if base > maxBackoff {
		base = maxBackoff
	}

	// Full jitter: random value between 0 and base
	jittered := rand.Float64() * base
	return time.Duration(jittered * float64(time.Second))
}

// isRateLimitBody checks if a 403 response is actually a rate limit error.
func isRateLimitBody(body []byte) bool {
	return bytes.Contains(body, []byte("rateLimitExceeded")) ||
		bytes.Contains(body, []byte("RATE_LIMIT_EXCEEDED")) ||
		bytes.Contains(body, []byte("Quota exceeded")) ||
		bytes.Contains(body, []byte("userRateLimitExceeded"))
}

// decodeBase64URL decodes a base64url-encoded string, tolerating optional
// padding. Gmail typically returns unpadded base64url, but this handles both.
// If padding is present, it must be correct (malformed padding is rejected).
func decodeBase64URL(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return base64.URLEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// Gmail API JSON response types (unexported, used only for JSON unmarshaling).

type profileJSON struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
	HistoryID     string `json:"historyId"`
}

type labelJSON struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	Type                  string `json:"type"`
	MessagesTotal         int64  `json:"messagesTotal"`
	MessagesUnread        int64  `json:"messagesUnread"`
	MessageListVisibility string `json:"messageListVisibility"`
	LabelListVisibility   string `json:"labelListVisibility"`
}

type listLabelsJSON struct {
	Labels []labelJSON `json:"labels"`
}

type messageRefJSON struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type listMessagesJSON struct {
	Messages           []messageRefJSON `json:"messages"`
	NextPageToken      string           `json:"nextPageToken"`
	ResultSizeEstimate int64            `json:"resultSizeEstimate"`
}

type headerJSON struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type partBodyJSON struct {
	AttachmentID string `json:"attachmentId"`
	Size         int64  `json:"size"`
	Data         string `json:"data"`
}

type partJSON struct {
	PartID   string        `json:"partId"`
	MimeType string        `json:"mimeType"`
	Filename string        `json:"filename"`
	Headers  []headerJSON  `json:"headers"`
	Body     *partBodyJSON `json:"body"`
	Parts    []partJSON    `json:"parts"`
}

type messageJSON struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"threadId"`
	LabelIDs     []string  `json:"labelIds"`
	Snippet      string    `json:"snippet"`
	HistoryID    string    `json:"historyId"`
	InternalDate string    `json:"internalDate"`
	SizeEstimate int64     `json:"sizeEstimate"`
	Payload      *partJSON `json:"payload"`
}

type threadStubJSON struct {
	ID        string `json:"id"`
	Snippet   string `json:"snippet"`
	HistoryID string `json:"historyId"`
}

type listThreadsJSON struct {
	Threads       []threadStubJSON `json:"threads"`
	NextPageToken string           `json:"nextPageToken"`
}

type threadJSON struct {
	ID        string        `json:"id"`
	HistoryID string        `json:"historyId"`
	Messages  []messageJSON `json:"messages"`
}

type attachmentJSON struct {
	Size int64  `json:"size"`
	Data string `json:"data"`
}

type historyMessageChangeJSON struct {
	Message messageRefJSON `json:"message"`
}

type historyLabelChangeJSON struct {
	Message  messageRefJSON `json:"message"`
	LabelIDs []string       `json:"labelIds"`
}

type historyEntryJSON struct {
	ID              string                     `json:"id"`
	MessagesAdded   []historyMessageChangeJSON `json:"messagesAdded"`
	MessagesDeleted []historyMessageChangeJSON `json:"messagesDeleted"`
	LabelsAdded     []historyLabelChangeJSON   `json:"labelsAdded"`
	LabelsRemoved   []historyLabelChangeJSON   `json:"labelsRemoved"`
}

type listHistoryJSON struct {
	History       []historyEntryJSON `json:"history"`
	NextPageToken string             `json:"nextPageToken"`
	HistoryID     string             `json:"historyId"`
}

func (m *messageJSON) toMessage() *Message {
	historyID, _ := strconv.ParseUint(m.HistoryID, 10, 64)
	internalDate, _ := strconv.ParseInt(m.InternalDate, 10, 64)
	return &Message{
		ID:           m.ID,
		ThreadID:     m.ThreadID,
		LabelIDs:     m.LabelIDs,
		Snippet:      m.Snippet,
		HistoryID:    historyID,
		InternalDate: internalDate,
		SizeEstimate: m.SizeEstimate,
		Payload:      m.Payload.toPart(),
	}
}

func (p *partJSON) toPart() *MessagePart {
	if p == nil {
		return nil
	}
	part := &MessagePart{
		PartID:   p.PartID,
		MimeType: p.MimeType,
		Filename: p.Filename,
	}
	for _, h := range p.Headers {
		part.Headers = append(part.Headers, Header(h))
	}
	if p.Body != nil {
		body := MessagePartBody(*p.Body)
		part.Body = &body
	}
	for i := range p.Parts {
		part.Parts = append(part.Parts, p.Parts[i].toPart())
	}
	return part
}

func labelFromJSON(l labelJSON) *Label {
	return &Label{
		ID:                    l.ID,
		Name:                  l.Name,
		Type:                  l.Type,
		MessagesTotal:         l.MessagesTotal,
		MessagesUnread:        l.MessagesUnread,
		MessageListVisibility: l.MessageListVisibility,
		LabelListVisibility:   l.LabelListVisibility,
	}
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	path := fmt.Sprintf("/users/%s/profile", c.userID)
	data, err := c.request(ctx, OpProfile, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp profileJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	historyID, _ := strconv.ParseUint(resp.HistoryID, 10, 64)

	return &Profile{
		EmailAddress:  resp.EmailAddress,
		MessagesTotal: resp.MessagesTotal,
		ThreadsTotal:  resp.ThreadsTotal,
		HistoryID:     historyID,
	}, nil
}

// ListMessages returns one page of message IDs matching the query.
func (c *Client) ListMessages(ctx context.Context, query string, labelIDs []string, pageToken string, maxResults int64) (*MessageListResponse, error) {
	if maxResults <= 0 || maxResults > 500 {
		maxResults = 500
	}

	params := url.Values{}
	params.Set("maxResults", strconv.FormatInt(maxResults, 10))
	if query != "" {
		params.Set("q", query)
	}
	for _, id := range labelIDs {
		params.Add("labelIds", id)
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	path := fmt.Sprintf("/users/%s/messages?%s", c.userID, params.Encode())
	data, err := c.request(ctx, OpMessagesList, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp listMessagesJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}

	messages := make([]MessageID, len(resp.Messages))
	for i, m := range resp.Messages {
		messages[i] = MessageID(m)
	}

	return &MessageListResponse{
		Messages:           messages,
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}, nil
}

// GetMessage fetches a single message in the given format.
func (c *Client) GetMessage(ctx context.Context, messageID string, format Format) (*Message, error) {
	if format == "" {
		format = FormatFull
	}
	path := fmt.Sprintf("/users/%s/messages/%s?format=%s", c.userID, messageID, format)
	data, err := c.request(ctx, OpMessagesGet, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp messageJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return resp.toMessage(), nil
}

// ModifyMessage adds and removes labels on a message.
func (c *Client) ModifyMessage(ctx context.Context, messageID string, addLabels, removeLabels []string) (*Message, error) {
	body := struct {
		AddLabelIDs    []string `json:"addLabelIds"`
		RemoveLabelIDs []string `json:"removeLabelIds"`
	}{
		AddLabelIDs:    emptyIfNil(addLabels),
		RemoveLabelIDs: emptyIfNil(removeLabels),
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/%s/modify", c.userID, messageID)
	data, err := c.request(ctx, OpMessagesModify, "POST", path, bodyBytes)
	if err != nil {
		return nil, err
	}

	var resp messageJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return resp.toMessage(), nil
}

// TrashMessage moves a message to trash.
func (c *Client) TrashMessage(ctx context.Context, messageID string) error {
	path := fmt.Sprintf("/users/%s/messages/%s/trash", c.userID, messageID)
	_, err := c.request(ctx, OpMessagesTrash, "POST", path, nil)
	return err
}

// ListHistory returns changes since the given history ID.
func (c *Client) ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryResponse, error) {
	params := url.Values{}
	params.Set("startHistoryId", strconv.FormatUint(startHistoryID, 10))
	for _, ht := range []string{"messageAdded", "messageDeleted", "labelAdded", "labelRemoved"} {
		params.Add("historyTypes", ht)
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	path := fmt.Sprintf("/users/%s/history?%s", c.userID, params.Encode())
	data, err := c.request(ctx, OpHistoryList, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp listHistoryJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}

	historyID, _ := strconv.ParseUint(resp.HistoryID, 10, 64)

	return &HistoryResponse{
		History:       mapHistoryEntries(resp.History),
		NextPageToken: resp.NextPageToken,
		HistoryID:     historyID,
	}, nil
}

// mapHistoryEntries converts JSON history entries to domain types.
func mapHistoryEntries(entries []historyEntryJSON) []HistoryRecord {
	records := make([]HistoryRecord, len(entries))
	for i, h := range entries {
		id, _ := strconv.ParseUint(h.ID, 10, 64)
		records[i] = HistoryRecord{
			ID:              id,
			MessagesAdded:   mapMessageChanges(h.MessagesAdded),
			MessagesDeleted: mapMessageChanges(h.MessagesDeleted),
			LabelsAdded:     mapLabelChanges(h.LabelsAdded),
			LabelsRemoved:   mapLabelChanges(h.LabelsRemoved),
		}
	}
	return records
}

func mapMessageChanges(changes []historyMessageChangeJSON) []HistoryMessage {
	out := make([]HistoryMessage, len(changes))
	for i, ch := range changes {
		out[i] = HistoryMessage{
			Message: MessageID(ch.Message),
		}
	}
	return out
}

func mapLabelChanges(changes []historyLabelChangeJSON) []HistoryLabelChange {
	out := make([]HistoryLabelChange, len(changes))
	for i, ch := range changes {
		out[i] = HistoryLabelChange{
			Message:  MessageID(ch.Message),
			LabelIDs: ch.LabelIDs,
		}
	}
	return out
}

// ListLabels returns all labels for the account.
func (c *Client) ListLabels(ctx context.Context) ([]*Label, error) {
	path := fmt.Sprintf("/users/%s/labels", c.userID)
	data, err := c.request(ctx, OpLabelsList, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp listLabelsJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}

	labels := make([]*Label, len(resp.Labels))
	for i, l := range resp.Labels {
		labels[i] = labelFromJSON(l)
	}
	return labels, nil
}

// GetLabel returns one label with its message counts.
func (c *Client) GetLabel(ctx context.Context, labelID string) (*Label, error) {
	path := fmt.Sprintf("/users/%s/labels/%s", c.userID, labelID)
	data, err := c.request(ctx, OpLabelsGet, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp labelJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse label: %w", err)
	}
	return labelFromJSON(resp), nil
}

// CreateLabel creates a user label with the given display name.
func (c *Client) CreateLabel(ctx context.Context, name string) (*Label, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/labels", c.userID)
	data, err := c.request(ctx, OpLabelsMutate, "POST", path, body)
	if err != nil {
		return nil, err
	}

	var resp labelJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse label: %w", err)
	}
	return labelFromJSON(resp), nil
}

// UpdateLabel renames a user label.
func (c *Client) UpdateLabel(ctx context.Context, labelID, name string) (*Label, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/labels/%s", c.userID, labelID)
	data, err := c.request(ctx, OpLabelsMutate, "PUT", path, body)
	if err != nil {
		return nil, err
	}

	var resp labelJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse label: %w", err)
	}
	return labelFromJSON(resp), nil
}

// DeleteLabel removes a user label.
func (c *Client) DeleteLabel(ctx context.Context, labelID string) error {
	path := fmt.Sprintf("/users/%s/labels/%s", c.userID, labelID)
	_, err := c.request(ctx, OpLabelsMutate, "DELETE", path, nil)
	return err
}

// ListThreads returns up to maxResults thread stubs matching the query.
func (c *Client) ListThreads(ctx context.Context, query string, maxResults int64) ([]*ThreadStub, error) {
	if maxResults <= 0 {
		maxResults = 100
	}

	var threads []*ThreadStub
	pageToken := ""
	for int64(len(threads)) < maxResults {
		pageSize := maxResults - int64(len(threads))
		if pageSize > 500 {
			pageSize = 500
		}

		params := url.Values{}
		params.Set("maxResults", strconv.FormatInt(pageSize, 10))
		if query != "" {
			params.Set("q", query)
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		path := fmt.Sprintf("/users/%s/threads?%s", c.userID, params.Encode())
		data, err := c.request(ctx, OpThreadsList, "GET", path, nil)
		if err != nil {
			return nil, err
		}

		var resp listThreadsJSON
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("parse threads: %w", err)
		}

		for _, t := range resp.Threads {
			historyID, _ := strconv.ParseUint(t.HistoryID, 10, 64)
			threads = append(threads, &ThreadStub{
				ID:        t.ID,
				Snippet:   t.Snippet,
				HistoryID: historyID,
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	if int64(len(threads)) > maxResults {
		threads = threads[:maxResults]
	}
	return threads, nil
}

// GetThread fetches a thread with its messages.
func (c *Client) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	path := fmt.Sprintf("/users/%s/threads/%s", c.userID, threadID)
	data, err := c.request(ctx, OpThreadsGet, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp threadJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse thread: %w", err)
	}

	historyID, _ := strconv.ParseUint(resp.HistoryID, 10, 64)
	thread := &Thread{
		ID:        resp.ID,
		HistoryID: historyID,
	}
	for i := range resp.Messages {
		thread.Messages = append(thread.Messages, resp.Messages[i].toMessage())
	}
	return thread, nil
}

// ModifyThread adds and removes labels on every message in a thread.
func (c *Client) ModifyThread(ctx context.Context, threadID string, addLabels, removeLabels []string) error {
	body := struct {
		AddLabelIDs    []string `json:"addLabelIds"`
		RemoveLabelIDs []string `json:"removeLabelIds"`
	}{
		AddLabelIDs:    emptyIfNil(addLabels),
		RemoveLabelIDs: emptyIfNil(removeLabels),
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/threads/%s/modify", c.userID, threadID)
	_, err = c.request(ctx, OpThreadsModify, "POST", path, bodyBytes)
	return err
}

// TrashThread moves a whole thread to trash.
func (c *Client) TrashThread(ctx context.Context, threadID string) error {
	path := fmt.Sprintf("/users/%s/threads/%s/trash", c.userID, threadID)
	_, err := c.request(ctx, OpThreadsTrash, "POST", path, nil)
	return err
}

// GetAttachment returns the attachment body resource (still encoded).
func (c *Client) GetAttachment(ctx context.Context, messageID, attachmentID string) (*AttachmentBody, error) {
	path := fmt.Sprintf("/users/%s/messages/%s/attachments/%s", c.userID, messageID, attachmentID)
	data, err := c.request(ctx, OpAttachmentsGet, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp attachmentJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse attachment: %w", err)
	}
	return &AttachmentBody{Size: resp.Size, Data: resp.Data}, nil
}

// DownloadAttachment returns the decoded attachment bytes.
func (c *Client) DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	att, err := c.GetAttachment(ctx, messageID, attachmentID)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeBase64URL(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return decoded, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Ensure Client implements API interface.
var _ API = (*Client)(nil)
