// Package prompt builds the system instructions and user payloads for every
// request the pipeline issues. Everything here is a pure function of its inputs.
package prompt

import (
	"fmt"
	"strconv"
)

const fence = "```"

// SummarizerSystem is the system prompt for per-chunk summarization.
const SummarizerSystem = `
You are a senior engineer preparing material for patent, governance, and whitepaper artifacts. Summarize code to surface inventions and control surfaces:
- Extract purposes, novel mechanisms, data flows, state machines, cryptographic/consensus logic, on-chain/off-chain boundaries.
- Identify access control and governance hooks (onlyOwner, AccessControl roles, custom modifiers), emergency controls (pause/unpause), upgrade patterns (UUPS/1967/proxies), treasury/token supply actions, and parameter setters.
- Note on-chain storage, events, and their semantics.
- Cite filenames and line ranges when clear.
- Normalize jargon; keep to bullet points.
- Keep each file/chunk under ~180 words.
`

// SummarizerUser renders the payload for one chunk. index is 0-based and
// shown 1-based.
func SummarizerUser(id string, index, total int, text string) string {
	return fmt.Sprintf(`
Project file: %s (chunk %d/%d)

Summarize this chunk focusing on: purpose, inputs/outputs, key algorithms, security checks, on-chain storage, events, upgradeability, and anything potentially novel.

%s
%s
%s
`, id, index+1, total, fence, text, fence)
}

// CompressSystem is the system prompt for compression passes.
const CompressSystem = `
You compress technical summaries. Keep all essential semantics but reduce length sharply.
- Focus on contract names, state, events, access control, upgrade paths, security invariants.
- Remove prose filler; keep bullet lists and short phrases.
`

// CompressUser renders a compression request. Fractional targets from the
// intermediate pass are printed as-is (e.g. 1500.5).
func CompressUser(text string, targetChars float64) string {
	return fmt.Sprintf(`
Compress the following aggregated summaries to <= %s characters while preserving key technical content:

%s
`, FormatTarget(targetChars), text)
}

// FormatTarget renders a character target without trailing zeros.
func FormatTarget(target float64) string {
	return strconv.FormatFloat(target, 'f', -1, 64)
}

// noteOrNone substitutes a placeholder for an empty author note.
func noteOrNone(note string) string {
	if note == "" {
		return "(none)"
	}
	return note
}
