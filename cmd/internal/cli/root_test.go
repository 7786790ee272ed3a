package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"buildlink/cmd/internal/dm"
)

func startGateway(t *testing.T) string {
	t.Helper()
	profiles := dm.NewInMemoryProfileStore(dm.Profile{UserID: "u2", DisplayName: "Bob"})
	gw := dm.NewWSGateway(nil, dm.NewInMemoryStore(), profiles, dm.GatewayConfig{})
	ts := httptest.NewServer(gw)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return plain(out.String()), err
}

func TestCLI_SendOpenRead(t *testing.T) {
	t.Parallel()

	url := startGateway(t)
	common := []string{"--url", url, "--origin", "http://localhost", "--tz", "UTC"}

	out, err := runCLI(t, append(common, "--user", "u1", "open", "u2")...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !strings.Contains(out, "Bob") || !strings.Contains(out, "No messages yet.") {
		t.Fatalf("open output: %q", out)
	}

	out, err = runCLI(t, append(common, "--user", "u1", "send", "u2", "see", "you")...)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "You: see you") || !strings.Contains(out, "sent ") {
		t.Fatalf("send output: %q", out)
	}

	out, err = runCLI(t, append(common, "--user", "u2", "open", "u1")...)
	if err != nil {
		t.Fatalf("open as peer: %v", err)
	}
	if !strings.Contains(out, ": see you") || !strings.Contains(out, "1 unread") {
		t.Fatalf("peer output: %q", out)
	}

	out, err = runCLI(t, append(common, "--user", "u2", "read", "u1")...)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.TrimSpace(out) != "marked 1 message(s) read" {
		t.Fatalf("read output: %q", out)
	}

	out, err = runCLI(t, append(common, "--user", "u1", "prefetch", "u2", "u3")...)
	if err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	if !strings.Contains(out, "1 message(s)") || !strings.Contains(out, "0 message(s)") {
		t.Fatalf("prefetch output: %q", out)
	}
}

func TestCLI_RequiresUser(t *testing.T) {
	t.Setenv("BUILDLINK_USER", "")

	_, err := runCLI(t, "open", "u2")
	if err == nil || !strings.Contains(err.Error(), "--user") {
		t.Fatalf("expected missing user error, got %v", err)
	}
}

func TestCLI_SendRejectsBlankText(t *testing.T) {
	t.Parallel()

	url := startGateway(t)
	_, err := runCLI(t, "--url", url, "--user", "u1", "send", "u2", "   ")
	if err == nil {
		t.Fatalf("expected send error for blank text")
	}
}
