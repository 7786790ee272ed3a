package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newOpenCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open <peer>",
		Short: "Show a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := o.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			peer := args[0]
			if err := s.OpenConversation(ctx, peer); err != nil {
				return err
			}
			info := s.DisplayInfo(ctx, peer)
			fmt.Fprintln(cmd.OutOrStdout(), renderConversation(info, s.Self(), s.UnreadCount(peer), s.DisplayItems(peer), o.loc))
			return nil
		},
	}
}

func newSendCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <text...>",
		Short: "Send a message and show the conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := o.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			peer := args[0]
			msg, err := s.Send(ctx, peer, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			// History is merged over the sent message.
			if err := s.EnsureLoaded(ctx, peer); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderConversation(s.DisplayInfo(ctx, peer), s.Self(), s.UnreadCount(peer), s.DisplayItems(peer), o.loc))
			fmt.Fprintln(out, styleSubtle.Render("sent "+msg.ID))
			return nil
		},
	}
}

func newReadCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <peer>",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := o.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			peer := args[0]
			if err := s.EnsureLoaded(ctx, peer); err != nil {
				return err
			}
			n, err := s.MarkRead(ctx, peer)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d message(s) read\n", n)
			return nil
		},
	}
}

func newPrefetchCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prefetch <peer...>",
		Short: "Load several conversations and summarize them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := o.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			fetchErr := s.Prefetch(ctx, args...)

			rows := make([]summaryRow, 0, len(args))
			for _, peer := range args {
				rows = append(rows, summaryRow{
					Info:     s.DisplayInfo(ctx, peer),
					State:    s.LoadingState(peer),
					Messages: len(s.Messages(peer)),
					Unread:   s.UnreadCount(peer),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(rows))

			if fetchErr != nil {
				return fmt.Errorf("prefetch incomplete: %w", fetchErr)
			}
			return nil
		},
	}
}

func newWhoisCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whois <peer>",
		Short: "Show a peer's display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := o.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			info := s.DisplayInfo(ctx, args[0])
			fmt.Fprintln(cmd.OutOrStdout(), renderPeer(info))
			return nil
		},
	}
}
