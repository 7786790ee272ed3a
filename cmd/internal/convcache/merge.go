package convcache

import (
	"slices"
	"strings"
)

// mergeMessages unions existing and incoming, de-duplicating by ID.
// Incoming wins on conflict. The result is sorted by CreatedAt, ties broken by ID.
// Neither input is modified.
func mergeMessages(existing, incoming []Message) []Message {
	if len(incoming) == 0 {
		return slices.Clone(existing)
	}

	byID := make(map[string]int, len(existing)+len(incoming))
	out := make([]Message, 0, len(existing)+len(incoming))

	for _, m := range existing {
		if i, ok := byID[m.ID]; ok {
			out[i] = m
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, m)
	}
	for _, m := range incoming {
		if i, ok := byID[m.ID]; ok {
			out[i] = m
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, m)
	}

	sortMessages(out)
	return out
}

func sortMessages(msgs []Message) {
	slices.SortStableFunc(msgs, compareMessages)
}

func compareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
