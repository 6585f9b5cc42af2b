package summarize

import "strings"

// Entry is one document's chunk summaries, in chunk order.
type Entry struct {
	DocumentID string
	Chunks     []string
}

// Text renders the entry as "## <id>\n" followed by its chunk summaries.
func (e Entry) Text() string {
	return "## " + e.DocumentID + "\n" + strings.Join(e.Chunks, "\n\n")
}

// Accumulator collects summaries in document order. It only grows.
type Accumulator struct {
	entries []Entry
}

func (a *Accumulator) add(id string, chunks []string) {
	a.entries = append(a.entries, Entry{DocumentID: id, Chunks: chunks})
}

// Entries returns a copy of the collected entries.
func (a *Accumulator) Entries() []Entry {
	if a == nil {
		return nil
	}
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of summarized documents.
func (a *Accumulator) Len() int {
	if a == nil {
		return 0
	}
	return len(a.entries)
}

// Combined assembles the corpus handed to compression: every entry's text,
// joined by a blank line.
func (a *Accumulator) Combined() string {
	if a == nil {
		return ""
	}
	parts := make([]string, len(a.entries))
	for i, e := range a.entries {
		parts[i] = e.Text()
	}
	return strings.Join(parts, "\n\n")
}
