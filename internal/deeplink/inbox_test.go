package deeplink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func collect(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case link := <-ch:
			out = append(out, link)
		case <-timeout:
			t.Fatalf("timed out after %d of %d links: %v", len(out), n, out)
		}
	}
	return out
}

func TestWriteInboxCreatesOrderedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := WriteInbox(dir, "  clipify://auth/callback?code=1  ")
	if err != nil {
		t.Fatalf("WriteInbox() error = %v", err)
	}
	second, err := WriteInbox(dir, "clipify://auth/callback?code=2")
	if err != nil {
		t.Fatalf("WriteInbox() error = %v", err)
	}
	if filepath.Base(first) >= filepath.Base(second) {
		t.Fatalf("inbox names not ordered: %s >= %s", first, second)
	}
	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read inbox file: %v", err)
	}
	if string(data) != "clipify://auth/callback?code=1" {
		t.Fatalf("inbox content = %q", data)
	}
	if _, err = WriteInbox(dir, "   "); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestInboxSourceDrainsAndWatches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := WriteInbox(dir, "clipify://auth/callback?code=early"); err != nil {
		t.Fatalf("WriteInbox() error = %v", err)
	}

	links := make(chan string, 8)
	source := NewInboxSource(dir)
	stop, err := source.Subscribe(context.Background(), func(raw string) { links <- raw })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer stop()

	got := collect(t, links, 1)
	if got[0] != "clipify://auth/callback?code=early" {
		t.Fatalf("drained link = %q", got[0])
	}

	if _, err = WriteInbox(dir, "clipify://auth/callback?code=late"); err != nil {
		t.Fatalf("WriteInbox() error = %v", err)
	}
	got = collect(t, links, 1)
	if !strings.Contains(got[0], "code=late") {
		t.Fatalf("watched link = %q", got[0])
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read inbox: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), inboxExt) {
			t.Fatalf("inbox file %s was not consumed", entry.Name())
		}
	}
}

func TestInboxSourceStopIsIdempotent(t *testing.T) {
	t.Parallel()

	source := NewInboxSource(filepath.Join(t.TempDir(), "nested", "inbox"))
	stop, err := source.Subscribe(context.Background(), func(string) {})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	stop()
	stop()
}

func TestInboxSourcesShareDirByClaim(t *testing.T) {
	t.Parallel()

	for _, agentFirst := range []bool{true, false} {
		dir := t.TempDir()
		agentLinks := make(chan string, 4)
		loginLinks := make(chan string, 4)
		agent := NewInboxSource(dir, WithClaim(ClaimPending(pendingState(""))))
		login := NewInboxSource(dir, WithClaim(ClaimPending(pendingState("s1"))))

		subscribe := func(source *InboxSource, ch chan string) {
			stop, err := source.Subscribe(context.Background(), func(raw string) { ch <- raw })
			if err != nil {
				t.Fatalf("Subscribe() error = %v", err)
			}
			t.Cleanup(stop)
		}
		if agentFirst {
			subscribe(agent, agentLinks)
			subscribe(login, loginLinks)
		} else {
			subscribe(login, loginLinks)
			subscribe(agent, agentLinks)
		}

		if _, err := WriteInbox(dir, "clipify://auth/callback?code=c&state=s1"); err != nil {
			t.Fatalf("WriteInbox() error = %v", err)
		}
		got := collect(t, loginLinks, 1)
		if !strings.Contains(got[0], "state=s1") {
			t.Fatalf("login link = %q", got[0])
		}
		select {
		case link := <-agentLinks:
			t.Fatalf("agent consumed %q (agentFirst=%v)", link, agentFirst)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestInboxSourceKeepsThenExpiresUnclaimedLinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fresh, err := WriteInbox(dir, "clipify://auth/callback?code=c&state=other")
	if err != nil {
		t.Fatalf("WriteInbox() error = %v", err)
	}
	stale, err := WriteInbox(dir, "clipify://auth/callback?code=c&state=old")
	if err != nil {
		t.Fatalf("WriteInbox() error = %v", err)
	}
	old := time.Now().Add(-unclaimedTTL - time.Minute)
	if err = os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	delivered := make(chan string, 2)
	source := NewInboxSource(dir, WithClaim(func(string) bool { return false }))
	stop, err := source.Subscribe(context.Background(), func(raw string) { delivered <- raw })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, errStat := os.Stat(stale); os.IsNotExist(errStat) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stale unclaimed link was not discarded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err = os.Stat(fresh); err != nil {
		t.Fatalf("fresh unclaimed link removed: %v", err)
	}
	if len(delivered) != 0 {
		t.Fatalf("delivered %d unclaimed links", len(delivered))
	}
}
