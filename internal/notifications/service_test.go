package notifications_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"autocopy/internal/config"
	"autocopy/internal/logging"
	"autocopy/internal/notifications"
)

type recordingTransport struct {
	mu       sync.Mutex
	messages []notifications.Message
	failures int
}

func (r *recordingTransport) Send(_ context.Context, msg notifications.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("connection reset")
	}
	r.messages = append(r.messages, msg)
	return nil
}

func enabledConfig() *config.Config {
	cfg := config.Default()
	cfg.Notifications.Enabled = true
	return &cfg
}

func fixedClock() time.Time {
	return time.Date(2020, time.January, 2, 15, 4, 5, 0, time.UTC)
}

func TestServiceAddsPrefixAndFooter(t *testing.T) {
	transport := &recordingTransport{}
	svc := notifications.NewService(enabledConfig(), logging.NewNop(),
		notifications.WithTransport(transport),
		notifications.WithHostname("seqhost"),
		notifications.WithClock(fixedClock),
	)

	if err := svc.Send(context.Background(), notifications.Message{Subject: "Daemon Started", Body: "hello\n"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(transport.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(transport.messages))
	}
	got := transport.messages[0]
	if got.Subject != "AUTOCOPY (seqhost): Daemon Started" {
		t.Fatalf("unexpected subject %q", got.Subject)
	}
	if got.Body != "hello\n\nSent at 15:04:05 01/02/20 UTC\n" {
		t.Fatalf("unexpected body %q", got.Body)
	}
}

func TestServiceRetriesOnce(t *testing.T) {
	transport := &recordingTransport{failures: 1}
	svc := notifications.NewService(enabledConfig(), logging.NewNop(),
		notifications.WithTransport(transport),
		notifications.WithRetryDelay(time.Millisecond),
	)
	if err := svc.Send(context.Background(), notifications.Message{Subject: "x"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(transport.messages) != 1 {
		t.Fatalf("expected delivery after retry, got %d", len(transport.messages))
	}
}

func TestServiceGivesUpAfterOneRetry(t *testing.T) {
	transport := &recordingTransport{failures: 5}
	svc := notifications.NewService(enabledConfig(), logging.NewNop(),
		notifications.WithTransport(transport),
		notifications.WithRetryDelay(time.Millisecond),
	)
	if err := svc.Send(context.Background(), notifications.Message{Subject: "x"}); err == nil {
		t.Fatal("expected error after exhausting retry")
	}
	if transport.failures != 3 {
		t.Fatalf("expected exactly two attempts, %d failures left", transport.failures)
	}
}

func TestServiceSuppressedWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.Enabled = false
	transport := &recordingTransport{}
	svc := notifications.NewService(&cfg, logging.NewNop(), notifications.WithTransport(transport))
	if err := svc.Send(context.Background(), notifications.Message{Subject: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(transport.messages) != 0 {
		t.Fatal("disabled notifier must not deliver")
	}
}

func TestNtfyTransportHeaders(t *testing.T) {
	var captured struct {
		title, tags, priority, body string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		captured.title = r.Header.Get("Title")
		captured.tags = r.Header.Get("Tags")
		captured.priority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		captured.body = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := enabledConfig()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5

	svc := notifications.NewService(cfg, logging.NewNop(), notifications.WithHostname("h"), notifications.WithClock(fixedClock))
	err := svc.Send(context.Background(), notifications.Message{Subject: "ERROR COPYING Run Dir 200101_M1", Body: "Return code:\t1", Priority: notifications.PriorityHigh})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if captured.title != "AUTOCOPY (h): ERROR COPYING Run Dir 200101_M1" {
		t.Fatalf("unexpected title %q", captured.title)
	}
	if captured.tags != "autocopy" || captured.priority != "high" {
		t.Fatalf("unexpected tags/priority %q/%q", captured.tags, captured.priority)
	}
	if !strings.HasPrefix(captured.body, "Return code:\t1") {
		t.Fatalf("unexpected body %q", captured.body)
	}
}

func TestNtfyTransportReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := enabledConfig()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(cfg, logging.NewNop(), notifications.WithRetryDelay(time.Millisecond))
	if err := svc.Send(context.Background(), notifications.Message{Subject: "x"}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

// fakeSMTP accepts one plain-text session and records the DATA payload.
type fakeSMTP struct {
	ln    net.Listener
	mu    sync.Mutex
	rcpts []string
	data  string
	done  chan struct{}
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeSMTP{ln: ln, done: make(chan struct{})}
	t.Cleanup(func() { _ = ln.Close() })
	go f.serve()
	return f
}

func (f *fakeSMTP) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeSMTP) serve() {
	defer close(f.done)
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	reply := func(line string) {
		_, _ = rw.WriteString(line + "\r\n")
		_ = rw.Flush()
	}
	reply("220 fake ESMTP")
	for {
		line, err := rw.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 fake")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			reply("250 ok")
		case strings.HasPrefix(cmd, "RCPT TO"):
			f.mu.Lock()
			f.rcpts = append(f.rcpts, strings.TrimSpace(line[len("RCPT TO:"):]))
			f.mu.Unlock()
			reply("250 ok")
		case cmd == "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := rw.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			f.mu.Lock()
			f.data = body.String()
			f.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 ok")
		}
	}
}

func TestSMTPTransportDeliversMail(t *testing.T) {
	server := startFakeSMTP(t)

	cfg := enabledConfig()
	cfg.Notifications.SMTPServer = "127.0.0.1"
	cfg.Notifications.SMTPPort = server.port()
	cfg.Notifications.EmailFrom = "autocopy@example.org"
	cfg.Notifications.EmailTo = []string{"ops@example.org", "lab@example.org"}
	cfg.Notifications.RequestTimeout = 5

	svc := notifications.NewService(cfg, logging.NewNop(), notifications.WithHostname("seq1"), notifications.WithRetryDelay(time.Millisecond))
	if err := svc.Send(context.Background(), notifications.Message{Subject: "Run status summary", Body: "line one\nline two"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-server.done:
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not finish")
	}
	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.rcpts) != 2 {
		t.Fatalf("expected two recipients, got %v", server.rcpts)
	}
	for _, want := range []string{
		"Subject: AUTOCOPY (seq1): Run status summary\r\n",
		"From: autocopy@example.org\r\n",
		"To: ops@example.org,lab@example.org\r\n",
		"line one\r\nline two\r\n",
	} {
		if !strings.Contains(server.data, want) {
			t.Fatalf("expected %q in payload %q", want, server.data)
		}
	}
}

func TestSMTPTransportDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	cfg := enabledConfig()
	cfg.Notifications.SMTPServer = "127.0.0.1"
	cfg.Notifications.SMTPPort = port
	cfg.Notifications.EmailFrom = "a@example.org"
	cfg.Notifications.EmailTo = []string{"b@example.org"}
	svc := notifications.NewService(cfg, logging.NewNop(), notifications.WithRetryDelay(time.Millisecond))
	err = svc.Send(context.Background(), notifications.Message{Subject: "x"})
	if err == nil || !strings.Contains(err.Error(), "smtp dial") {
		t.Fatalf("expected dial error, got %v", err)
	}
}
