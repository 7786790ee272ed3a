package cli

import (
	"fmt"
	"strings"
	"time"

	"buildlink/cmd/internal/convcache"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorAccent  = lipgloss.Color("#22D3EE")
	colorSuccess = lipgloss.Color("#34D399")
	colorWarning = lipgloss.Color("#FBBF24")
	colorMuted   = lipgloss.Color("#6B7280")

	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	styleSubtle = lipgloss.NewStyle().
			Foreground(colorMuted)

	styleSeparator = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)

	styleSenderMe = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	styleSenderThem = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	styleRead = lipgloss.NewStyle().
			Foreground(colorSuccess)

	styleUnread = lipgloss.NewStyle().
			Foreground(colorWarning)
)

func renderPeer(info convcache.DisplayInfo) string {
	name := styleTitle.Render(info.Name)
	if info.Placeholder {
		name += " " + styleSubtle.Render("(unknown)")
	}
	return name + " " + styleSubtle.Render(info.PeerID)
}

// renderConversation formats display items the way the chat pane shows them:
// a header, then separators and "15:04 sender: text" rows.
func renderConversation(info convcache.DisplayInfo, self string, unread int, items []convcache.DisplayItem, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	b.WriteString(renderPeer(info))
	if unread > 0 {
		b.WriteString(" " + styleUnread.Render(fmt.Sprintf("%d unread", unread)))
	}
	b.WriteString("\n")

	if len(items) == 0 {
		b.WriteString(styleSubtle.Italic(true).Render("No messages yet."))
		return b.String()
	}

	for i, it := range items {
		if it.IsSeparator() {
			b.WriteString(styleSeparator.Render("── " + it.Label + " ──"))
		} else {
			b.WriteString(renderMessage(it.Message, info.Name, self, loc))
		}
		if i < len(items)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderMessage(m convcache.Message, peerName, self string, loc *time.Location) string {
	ts := styleSubtle.Render(m.CreatedAt.In(loc).Format("15:04"))

	sender := styleSenderThem.Render(peerName)
	mark := ""
	if m.SenderID == self {
		sender = styleSenderMe.Render("You")
		if m.Read {
			mark = " " + styleRead.Render("✓✓")
		} else {
			mark = " " + styleSubtle.Render("✓")
		}
	}
	return fmt.Sprintf("%s %s: %s%s", ts, sender, m.Content, mark)
}

type summaryRow struct {
	Info     convcache.DisplayInfo
	State    convcache.LoadingState
	Messages int
	Unread   int
}

func renderSummary(rows []summaryRow) string {
	var b strings.Builder
	for i, r := range rows {
		status := styleRead.Render(r.State.String())
		if r.State != convcache.Fetched {
			status = styleUnread.Render(r.State.String())
		}
		fmt.Fprintf(&b, "%s  %s  %d message(s)", renderPeer(r.Info), status, r.Messages)
		if r.Unread > 0 {
			b.WriteString("  " + styleUnread.Render(fmt.Sprintf("%d unread", r.Unread)))
		}
		if i < len(rows)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
