package gmail

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

const (
	batchChunkSize      = 10              // sub-requests per batch POST
	batchInterChunkWait = 2 * time.Second // pause between chunks of a pass
	batchMaxRetries     = 7               // retry passes over rate-limited ids
)

// BatchGetMessages fetches many messages through the Gmail batch endpoint.
//
// Each pass splits the pending ids into chunks of ten, POSTs each chunk as a
// multipart/mixed request, and sleeps two seconds between chunks. Every
// sub-response is classified: success, rate-limited (429, or 403 whose body
// carries a rate-limit reason), or permanent failure. Rate-limited ids are
// retried in the next pass after an exponential backoff with jitter,
// min(2^(attempt+1), 64) + U(0,2) seconds, for at most seven retry passes;
// whatever is still rate-limited after that is reported as failed.
//
// Successful messages come back in input order. Permanently failed ids are
// returned separately and do not fail the call.
func (c *Client) BatchGetMessages(ctx context.Context, messageIDs []string, format Format) ([]*Message, []string, error) {
	if len(messageIDs) == 0 {
		return nil, nil, nil
	}
	if format == "" {
		format = FormatFull
	}

	results := make(map[string]*Message, len(messageIDs))
	permanent := make(map[string]bool)
	pending := append([]string(nil), messageIDs...)

	for attempt := 0; attempt <= batchMaxRetries; attempt++ {
		if len(pending) == 0 {
			break
		}

		var rateLimited []string
		for i := 0; i < len(pending); i += batchChunkSize {
			end := i + batchChunkSize
			if end > len(pending) {
				end = len(pending)
			}
			chunk := pending[i:end]

			succ, limited, failed, err := c.executeBatchChunk(ctx, chunk, format)
			if err != nil {
				return nil, nil, err
			}
			for id, msg := range succ {
				results[id] = msg
			}
			rateLimited = append(rateLimited, limited...)
			for _, id := range failed {
				permanent[id] = true
			}

			// Pace chunks within a pass; the last chunk doesn't wait.
			if end < len(pending) {
				if err := c.sleep(ctx, batchInterChunkWait); err != nil {
					return nil, nil, err
				}
			}
		}

		if len(rateLimited) == 0 {
			pending = nil
			break
		}

		pending = rateLimited
		if attempt == batchMaxRetries {
			break
		}

		backoff := batchBackoff(attempt)
		c.logger.Info("batch messages rate-limited, retrying",
			"count", len(rateLimited),
			"backoff", backoff,
			"attempt", attempt+1,
			"max_retries", batchMaxRetries)
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, nil, err
		}
	}

	if len(pending) > 0 {
		c.logger.Warn("messages still rate-limited after retries",
			"count", len(pending), "retries", batchMaxRetries)
		for _, id := range pending {
			permanent[id] = true
		}
	}

	var ordered []*Message
	var failed []string
	for _, id := range messageIDs {
		if msg, ok := results[id]; ok {
			ordered = append(ordered, msg)
		}
		if permanent[id] {
			failed = append(failed, id)
		}
	}
	return ordered, failed, nil
}

// batchBackoff returns the pass backoff: min(2^(attempt+1), 64) seconds plus
// up to two seconds of jitter.
func batchBackoff(attempt int) time.Duration {
	base := float64(uint(1) << uint(attempt+1))
	if base > 64 {
		base = 64
	}
	jitter := rand.Float64() * 2
	return time.Duration((base + jitter) * float64(time.Second))
}

// executeBatchChunk POSTs one chunk and classifies each sub-response.
// A chunk-level 429/403-rate response marks the whole chunk rate-limited.
func (c *Client) executeBatchChunk(ctx context.Context, ids []string, format Format) (map[string]*Message, []string, []string, error) {
	if err := c.rateLimiter.AcquireN(ctx, OpMessagesGet, len(ids)); err != nil {
		return nil, nil, nil, fmt.Errorf("rate limit: %w", err)
	}

	body, contentType, err := c.buildBatchBody(ids, format)
	if err != nil {
		return nil, nil, nil, err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, calculateBackoff(attempt)); err != nil {
				return nil, nil, nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.batchURL, bytes.NewReader(body))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create batch request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("batch request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read batch response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			succ, limited, failed, err := c.parseBatchResponse(resp.Header.Get("Content-Type"), respBody, ids)
			if err != nil {
				return nil, nil, nil, err
			}
			return succ, limited, failed, nil

		case resp.StatusCode == 429:
			c.rateLimiter.Throttle(30 * time.Second)
			return nil, append([]string(nil), ids...), nil, nil

		case resp.StatusCode == 403 && isRateLimitBody(respBody):
			c.rateLimiter.Throttle(60 * time.Second)
			return nil, append([]string(nil), ids...), nil, nil

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("batch server error (%d)", resp.StatusCode)
			continue

		default:
			return nil, nil, nil, &PermanentError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}
	}

	return nil, nil, nil, fmt.Errorf("batch request failed: %w", lastErr)
}

// buildBatchBody assembles the multipart/mixed request body: one
// application/http part per message id, each carrying a GET sub-request.
func (c *Client) buildBatchBody(ids []string, format Format) ([]byte, string, error) {
	subPathPrefix := "/gmail/v1"
	if u, err := url.Parse(c.baseURL); err == nil && u.Path != "" {
		subPathPrefix = strings.TrimRight(u.Path, "/")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, id := range ids {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "application/http")
		header.Set("Content-ID", "<"+id+">")

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("create batch part: %w", err)
		}

		fmt.Fprintf(part, "GET %s/users/%s/messages/%s?format=%s HTTP/1.1\r\n\r\n",
			subPathPrefix, c.userID, url.PathEscape(id), format)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close batch body: %w", err)
	}

	return buf.Bytes(), "multipart/mixed; boundary=" + w.Boundary(), nil
}

// parseBatchResponse splits the multipart response and classifies each
// embedded HTTP response.
func (c *Client) parseBatchResponse(contentType string, body []byte, ids []string) (map[string]*Message, []string, []string, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse batch content type %q: %w", contentType, err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, nil, nil, fmt.Errorf("batch response missing boundary")
	}

	succ := make(map[string]*Message)
	var rateLimited, failed []string

	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	index := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read batch part: %w", err)
		}

		id := matchBatchID(part.Header.Get("Content-Id"), ids)
		if id == "" && index < len(ids) {
			// Sub-responses arrive in request order when Content-ID is absent.
			id = ids[index]
		}
		index++

		subResp, err := http.ReadResponse(bufio.NewReader(part), nil)
		if err != nil {
			part.Close()
			return nil, nil, nil, fmt.Errorf("parse sub-response for %s: %w", id, err)
		}
		subBody, err := io.ReadAll(subResp.Body)
		subResp.Body.Close()
		part.Close()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read sub-response for %s: %w", id, err)
		}

		switch {
		case subResp.StatusCode >= 200 && subResp.StatusCode < 300:
			var msg messageJSON
			if err := json.Unmarshal(subBody, &msg); err != nil {
				c.logger.Warn("unparseable batch sub-response", "id", id, "error", err)
				failed = append(failed, id)
				continue
			}
			succ[id] = msg.toMessage()

		case subResp.StatusCode == 429:
			rateLimited = append(rateLimited, id)

		case subResp.StatusCode == 403 && isRateLimitBody(subBody):
			rateLimited = append(rateLimited, id)

		default:
			c.logger.Warn("permanent error in batch fetch",
				"id", id, "status", subResp.StatusCode)
			failed = append(failed, id)
		}
	}

	return succ, rateLimited, failed, nil
}

// matchBatchID extracts the original message id from a response Content-ID
// like "<response-MSGID>" or "response-MSGID".
func matchBatchID(contentID string, ids []string) string {
	contentID = strings.Trim(contentID, "<>")
	contentID = strings.TrimPrefix(contentID, "response-")
	for _, id := range ids {
		if contentID == id {
			return id
		}
	}
	return ""
}
