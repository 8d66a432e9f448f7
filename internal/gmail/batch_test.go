package gmail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"sync"
	"testing"
	"time"
)

var batchMessagePath = regexp.MustCompile(`/messages/([A-Za-z0-9_-]+)\?format=(\w+)`)

// batchServer speaks the multipart/mixed batch protocol. statusFor decides
// each sub-response; it sees the message id and the 1-based POST count so
// tests can heal ids between passes.
type batchServer struct {
	mu        sync.Mutex
	posts     int
	subCounts []int
	formats   []string
	statusFor func(id string, post int) int
}

func (s *batchServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.posts++
	post := s.posts
	s.mu.Unlock()

	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, "bad content type", 400)
		return
	}

	var ids []string
	mr := multipart.NewReader(r.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, "bad part", 400)
			return
		}
		body, _ := io.ReadAll(part)
		part.Close()
		if m := batchMessagePath.FindSubmatch(body); m != nil {
			ids = append(ids, string(m[1]))
			s.mu.Lock()
			s.formats = append(s.formats, string(m[2]))
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.subCounts = append(s.subCounts, len(ids))
	s.mu.Unlock()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, id := range ids {
		status := 200
		if s.statusFor != nil {
			status = s.statusFor(id, post)
		}

		var body string
		switch status {
		case 200:
			body = fmt.Sprintf(`{"id":%q,"threadId":"t_%s","historyId":"5","snippet":"hello"}`, id, id)
		case 403:
			body = string(errorWithReason("rateLimitExceeded"))
		default:
			body = `{"error":{"code":` + fmt.Sprint(status) + `}}`
		}

		ph := textproto.MIMEHeader{}
		ph.Set("Content-Type", "application/http")
		ph.Set("Content-ID", "response-"+id)
		pw, err := mw.CreatePart(ph)
		if err != nil {
			http.Error(w, "create part", 500)
			return
		}
		fmt.Fprintf(pw, "HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s",
			status, http.StatusText(status), len(body), body)
	}
	mw.Close()

	w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	w.Write(buf.Bytes())
}

func (s *batchServer) postCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts
}

func TestClient_BatchGetMessages_Success(t *testing.T) {
	srv := &batchServer{}
	c, _ := newTestClient(t, srv)

	msgs, failed, err := c.BatchGetMessages(context.Background(), []string{"m1", "m2", "m3"}, FormatFull)
	if err != nil {
		t.Fatalf("BatchGetMessages() error = %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("failed = %v, want none", failed)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Errorf("msgs[%d].ID = %q, want %q (input order)", i, msgs[i].ID, want)
		}
	}
	if srv.postCount() != 1 {
		t.Errorf("batch POSTs = %d, want 1", srv.postCount())
	}
	for _, f := range srv.formats {
		if f != "full" {
			t.Errorf("sub-request format = %q, want full", f)
		}
	}
}

func TestClient_BatchGetMessages_Empty(t *testing.T) {
	srv := &batchServer{}
	c, _ := newTestClient(t, srv)

	msgs, failed, err := c.BatchGetMessages(context.Background(), nil, FormatFull)
	if err != nil {
		t.Fatalf("BatchGetMessages() error = %v", err)
	}
	if msgs != nil || failed != nil {
		t.Errorf("got msgs=%v failed=%v, want nil", msgs, failed)
	}
	if srv.postCount() != 0 {
		t.Errorf("batch POSTs = %d, want 0", srv.postCount())
	}
}

func TestClient_BatchGetMessages_PermanentFailure(t *testing.T) {
	srv := &batchServer{
		statusFor: func(id string, post int) int {
			if id == "m2" {
				return 404
			}
			return 200
		},
	}
	c, _ := newTestClient(t, srv)

	msgs, failed, err := c.BatchGetMessages(context.Background(), []string{"m1", "m2", "m3"}, FormatFull)
	if err != nil {
		t.Fatalf("BatchGetMessages() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m3" {
		t.Errorf("messages = %+v, want m1 and m3", msgs)
	}
	if len(failed) != 1 || failed[0] != "m2" {
		t.Errorf("failed = %v, want [m2]", failed)
	}
	// Permanent failures are not retried.
	if srv.postCount() != 1 {
		t.Errorf("batch POSTs = %d, want 1", srv.postCount())
	}
}

func TestClient_BatchGetMessages_RateLimitedRetried(t *testing.T) {
	srv := &batchServer{
		statusFor: func(id string, post int) int {
			if id == "m2" && post == 1 {
				return 429
			}
			return 200
		},
	}
	c, clk := newTestClient(t, srv)

	msgs, failed, err := c.BatchGetMessages(context.Background(), []string{"m1", "m2", "m3"}, FormatFull)
	if err != nil {
		t.Fatalf("BatchGetMessages() error = %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("failed = %v, want none", failed)
	}
	if len(msgs) != 3 || msgs[1].ID != "m2" {
		t.Errorf("messages = %+v, want m1 m2 m3", msgs)
	}
	if srv.postCount() != 2 {
		t.Errorf("batch POSTs = %d, want 2 (one retry pass)", srv.postCount())
	}
	// The second pass only refetches the rate-limited id.
	if got := srv.subCounts[1]; got != 1 {
		t.Errorf("retry pass sub-requests = %d, want 1", got)
	}

	// First retry pass backs off min(2^1, 64) + U(0,2) seconds.
	var sawBackoff bool
	for _, d := range clk.Sleeps() {
		if d >= 2*time.Second && d < 4*time.Second {
			sawBackoff = true
		}
	}
	if !sawBackoff {
		t.Errorf("sleeps = %v, want one in [2s, 4s)", clk.Sleeps())
	}
}

func TestClient_BatchGetMessages_403RateLimitRetried(t *testing.T) {
	srv := &batchServer{
		statusFor: func(id string, post int) int {
			if id == "m1" && post == 1 {
				return 403
			}
			return 200
		},
	}
	c, _ := newTestClient(t, srv)

	msgs, failed, err := c.BatchGetMessages(context.Background(), []string{"m1"}, FormatFull)
	if err != nil {
		t.Fatalf("BatchGetMessages() error = %v", err)
	}
	if len(failed) != 0 || len(msgs) != 1 {
		t.Errorf("msgs=%+v failed=%v, want m1 recovered", msgs, failed)
	}
	if srv.postCount() != 2 {
		t.Errorf("batch POSTs = %d, want 2", srv.postCount())
	}
}

func TestClient_BatchGetMessages_ChunkPacing(t *testing.T) {
	srv := &batchServer{}
	c, clk := newTestClient(t, srv)

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("m%02d", i)
	}

	msgs, failed, err := c.BatchGetMessages(context.Background(), ids, FormatFull)
	if err != nil {
		t.Fatalf("BatchGetMessages() error = %v", err)
	}
	if len(msgs) != 12 || len(failed) != 0 {
		t.Fatalf("msgs=%d failed=%v, want 12 and none", len(msgs), failed)
	}
	if srv.postCount() != 2 {
		t.Errorf("batch POSTs = %d, want 2 (chunks of 10)", srv.postCount())
	}
	if srv.subCounts[0] != 10 || srv.subCounts[1] != 2 {
		t.Errorf("chunk sizes = %v, want [10 2]", srv.subCounts)
	}

	// Exactly one inter-chunk pause; the final chunk doesn't wait.
	var pauses int
	for _, d := range clk.Sleeps() {
		if d == batchInterChunkWait {
			pauses++
		}
	}
	if pauses != 1 {
		t.Errorf("inter-chunk pauses = %d (sleeps %v), want 1", pauses, clk.Sleeps())
	}
}

func TestClient_BatchGetMessages_ExhaustsRetries(t *testing.T) {
	srv := &batchServer{
		statusFor: func(id string, post int) int { return 429 },
	}
	c, _ := newTestClient(t, srv)

	msgs, failed, err := c.BatchGetMessages(context.Background(), []string{"m1"}, FormatFull)
	if err != nil {
		t.Fatalf("BatchGetMessages() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages = %+v, want none", msgs)
	}
	if len(failed) != 1 || failed[0] != "m1" {
		t.Errorf("failed = %v, want [m1]", failed)
	}
	// Initial pass plus seven retry passes.
	if srv.postCount() != batchMaxRetries+1 {
		t.Errorf("batch POSTs = %d, want %d", srv.postCount(), batchMaxRetries+1)
	}
}
