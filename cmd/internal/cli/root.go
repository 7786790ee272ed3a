// Package cli provides dmcli, a command-line client for the direct-message gateway.
// Every command builds a fresh conversation cache over one gateway connection.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"buildlink/cmd/internal/convcache"
	"buildlink/cmd/internal/dmclient"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

type rootOptions struct {
	url     string
	user    string
	origin  string
	timeout time.Duration
	tz      string
	verbose bool

	log *slog.Logger
	loc *time.Location
	now func() time.Time
}

// NewRootCmd returns the dmcli command tree.
func NewRootCmd() *cobra.Command {
	o := &rootOptions{now: time.Now}

	root := &cobra.Command{
		Use:   "dmcli",
		Short: "Direct messages from the terminal",
		Long: `dmcli talks to a BuildLink gateway as one user.

Conversations are keyed by the other participant's user id.

Examples:
  dmcli --user u1 open u2
  dmcli --user u1 send u2 "see you at 10"
  dmcli --user u1 prefetch u2 u3 u4`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.complete(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&o.url, "url", envOr("BUILDLINK_URL", "ws://localhost:8080/ws"), "gateway websocket url")
	f.StringVar(&o.user, "user", os.Getenv("BUILDLINK_USER"), "local user id")
	f.StringVar(&o.origin, "origin", envOr("BUILDLINK_ORIGIN", "http://localhost"), "Origin header sent to the gateway")
	f.DurationVar(&o.timeout, "timeout", 15*time.Second, "dial, fetch and send timeout")
	f.StringVar(&o.tz, "tz", "", "time zone for date separators (default local)")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(
		newOpenCmd(o),
		newSendCmd(o),
		newReadCmd(o),
		newPrefetchCmd(o),
		newWhoisCmd(o),
	)
	return root
}

// Execute runs dmcli with ctx bound to every command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (o *rootOptions) complete(cmd *cobra.Command) error {
	o.user = strings.TrimSpace(o.user)
	if o.user == "" {
		return fmt.Errorf("missing --user (or BUILDLINK_USER)")
	}
	if o.timeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}

	o.loc = time.Local
	if o.tz != "" {
		loc, err := time.LoadLocation(o.tz)
		if err != nil {
			return fmt.Errorf("load time zone: %w", err)
		}
		o.loc = loc
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	o.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

type session struct {
	*convcache.Messenger
	transport *dmclient.WSTransport
}

func (s *session) Close() error { return s.transport.Close() }

// connect dials the gateway and wraps the connection in a Messenger.
func (o *rootOptions) connect(ctx context.Context) (*session, error) {
	dctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	tr, err := dmclient.Dial(dctx, dmclient.DialOptions{
		URL:    o.url,
		UserID: o.user,
		Origin: o.origin,
		Logger: o.log,
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	m := convcache.NewMessenger(convcache.NewCache(tr.Self()), tr,
		convcache.WithFetchTimeout(o.timeout),
		convcache.WithSendTimeout(o.timeout),
		convcache.WithClock(o.now, o.loc),
		convcache.WithLogger(o.log),
	)
	return &session{Messenger: m, transport: tr}, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
