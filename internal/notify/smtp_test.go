package notify

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSMTP accepts a single plain-text session and records the DATA block.
type fakeSMTP struct {
	ln   net.Listener
	mu   sync.Mutex
	rcpt []string
	data string
	done chan struct{}
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeSMTP{ln: ln, done: make(chan struct{})}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeSMTP) port() int { return f.ln.Addr().(*net.TCPAddr).Port }

func (f *fakeSMTP) serve() {
	defer close(f.done)
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250-localhost")
			reply("250 8BITMIME")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO"):
			f.mu.Lock()
			f.rcpt = append(f.rcpt, strings.TrimSpace(line[len("RCPT TO:"):]))
			f.mu.Unlock()
			reply("250 OK")
		case cmd == "DATA":
			reply("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			f.mu.Lock()
			f.data = b.String()
			f.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func TestSMTP_SendsPlainMessage(t *testing.T) {
	srv := startFakeSMTP(t)
	s, err := NewSMTP(SMTPConfig{
		Host:    "127.0.0.1",
		Port:    srv.port(),
		From:    "Sitepulse <alerts@example.com>",
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}

	err = s.Send(context.Background(), "ops@example.com", "Monitor DOWN: api", "line one\nline two")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	<-srv.done

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.rcpt) != 1 || !strings.Contains(srv.rcpt[0], "ops@example.com") {
		t.Fatalf("rcpt = %v", srv.rcpt)
	}
	for _, want := range []string{"Subject: Monitor DOWN: api\r\n", "To: ops@example.com\r\n", "line one\r\nline two"} {
		if !strings.Contains(srv.data, want) {
			t.Fatalf("message missing %q:\n%s", want, srv.data)
		}
	}
}

func TestSMTP_ConfigValidation(t *testing.T) {
	if _, err := NewSMTP(SMTPConfig{Port: 25, From: "a@b"}); err == nil {
		t.Fatalf("expected error without host")
	}
	if _, err := NewSMTP(SMTPConfig{Host: "h", Port: 25}); err == nil {
		t.Fatalf("expected error without from")
	}
	if _, err := NewSMTP(SMTPConfig{Host: "h", From: "a@b"}); err == nil {
		t.Fatalf("expected error without port")
	}
}
