package convcache

import (
	"slices"
	"time"
)

// DisplayItemKind distinguishes rows of a rendered conversation.
type DisplayItemKind uint8

const (
	ItemMessage DisplayItemKind = iota + 1
	ItemSeparator
)

// DisplayItem is one row of a rendered conversation: a message or a date separator.
// Display items are derived on demand and never stored.
type DisplayItem struct {
	Kind    DisplayItemKind
	Label   string  // separators only
	Message Message // messages only
}

// IsSeparator reports whether the item is a date separator.
func (d DisplayItem) IsSeparator() bool { return d.Kind == ItemSeparator }

// Bucketer turns an ordered message list into display rows with date separators.
// The zero value uses time.Now and time.Local.
type Bucketer struct {
	Now      func() time.Time
	Location *time.Location
}

// DisplayItems emits a separator before every message whose calendar date differs
// from the previous message's date. Input order is not trusted; it is re-sorted.
func (b Bucketer) DisplayItems(messages []Message) []DisplayItem {
	if len(messages) == 0 {
		return []DisplayItem{}
	}

	loc := b.location()
	today := dateOf(b.now(), loc)

	sorted := slices.Clone(messages)
	sortMessages(sorted)

	out := make([]DisplayItem, 0, len(sorted)+4)
	var prev civilDate
	for i, m := range sorted {
		d := dateOf(m.CreatedAt, loc)
		if i == 0 || d != prev {
			out = append(out, DisplayItem{Kind: ItemSeparator, Label: dayLabel(d, today)})
			prev = d
		}
		out = append(out, DisplayItem{Kind: ItemMessage, Message: m})
	}
	return out
}

func (b Bucketer) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b Bucketer) location() *time.Location {
	if b.Location != nil {
		return b.Location
	}
	return time.Local
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time, loc *time.Location) civilDate {
	y, m, d := t.In(loc).Date()
	return civilDate{year: y, month: m, day: d}
}

func (d civilDate) time() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
}

// dayLabel names d relative to today. The day before today is always
// "Yesterday", never its calendar date.
func dayLabel(d, today civilDate) string {
	switch {
	case d == today:
		return "Today"
	case d.time().AddDate(0, 0, 1).Equal(today.time()):
		return "Yesterday"
	case d.year == today.year:
		return d.time().Format("Jan 2")
	default:
		return d.time().Format("Jan 2, 2006")
	}
}
