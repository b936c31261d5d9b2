package objstore

import (
	"strings"
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	key := ObjectKey("workspace_w1/chat_c1/Report.PDF", now)

	if !strings.HasPrefix(key, "workspace_w1/chat_c1/20260501_093000_") {
		t.Fatalf("unexpected prefix %q", key)
	}
	if !strings.HasSuffix(key, ".pdf") {
		t.Fatalf("expected lowercased extension, got %q", key)
	}
	if strings.Contains(key, "Report") {
		t.Fatalf("original file name leaked into key %q", key)
	}
}

func TestObjectKeyCleansTraversal(t *testing.T) {
	key := ObjectKey("../../etc/passwd", time.Unix(0, 0))
	if strings.Contains(key, "..") {
		t.Fatalf("key escapes prefix: %q", key)
	}
}

func TestURL(t *testing.T) {
	m := &MinioStore{cfg: Config{Endpoint: "minio:9000", Bucket: "files"}}
	if got := m.URL("a/b.png"); got != "http://minio:9000/files/a/b.png" {
		t.Fatalf("unexpected url %q", got)
	}
	m.cfg.UseSSL = true
	if got := m.URL("a/b.png"); got != "https://minio:9000/files/a/b.png" {
		t.Fatalf("unexpected url %q", got)
	}
}
