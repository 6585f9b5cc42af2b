package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is one synthesized artifact: its instruction, payload builder and
// default output filename.
type Kind struct {
	Name        string
	Description string
	DefaultFile string
	System      string
	User        func(title, note, summary string) string
}

// Payload returns the system and user messages for this kind.
func (k Kind) Payload(title, note, summary string) (system, user string) {
	return k.System, k.User(title, note, summary)
}

var kinds = []Kind{
	{
		Name:        "patent",
		Description: "USPTO provisional patent application draft",
		DefaultFile: "provisional_draft.md",
		System:      patentSystem,
		User:        patentUser,
	},
	{
		Name:        "governance",
		Description: "Aragon DAO governance report (which functions need community votes)",
		DefaultFile: "aragon_governance_report.md",
		System:      governanceSystem,
		User:        governanceUser,
	},
	{
		Name:        "whitepaper",
		Description: "Web3 protocol whitepaper",
		DefaultFile: "whitepaper.md",
		System:      whitepaperSystem,
		User:        whitepaperUser,
	},
}

var aliases = map[string]string{
	"aragon":      "governance",
	"provisional": "patent",
	"paper":       "whitepaper",
}

// All returns every known kind in registry order.
func All() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// Names returns the registered kind names, sorted.
func Names() []string {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.Name)
	}
	sort.Strings(names)
	return names
}

// Lookup finds a kind by name or alias, ignoring case.
func Lookup(name string) (Kind, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	for _, k := range kinds {
		if k.Name == key {
			return k, true
		}
	}
	return Kind{}, false
}

// Resolve maps requested names to kinds in request order, dropping
// duplicates. No names means every kind.
func Resolve(names []string) ([]Kind, error) {
	if len(names) == 0 {
		return All(), nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]Kind, 0, len(names))
	for _, name := range names {
		k, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown artifact kind %q (known: %s)", name, strings.Join(Names(), ", "))
		}
		if seen[k.Name] {
			continue
		}
		seen[k.Name] = true
		out = append(out, k)
	}
	return out, nil
}

const patentSystem = `
You are a U.S. patent drafting assistant. Draft a **USPTO Provisional Patent Application** in clean Markdown.
Provisional best practices:
- Claims are **not required**; provide an optional claim-like section for future non-provisional if helpful.
- Provide enough enabling detail and variations; include computing environment and implementation details.
- No legalese beyond necessity; be precise, technical, and implementer-oriented.
- Label figure suggestions (FIG. 1, FIG. 2...) with captions that the team can later illustrate.

Structure strictly as:

# Title
# Field
# Background
# Summary
# Brief Description of the Drawings
# Detailed Description (with subsections and alternatives)
# Example Implementations
# Advantages
# Definitions (if any)
# Implementation Details (frontend TSX, backend, Solidity contracts, storage layouts, events, upgradeability patterns, security)
# Example Use Cases
# Alternative Embodiments
# Potential Claim Concepts (optional, bullet list only)
# Abstract

End with a short "Filing Notes" checklist.
`

func patentUser(title, note, summary string) string {
	return fmt.Sprintf(`
Project name: %s

High-level context from author (if any):
%s

Project technical summaries (aggregated):
%s

Using the above, draft a **provisional patent application** as per the structure.
Focus on: what is novel, how it works, data flows, user actions, contract-level invariants, signature schemes, on-chain/off-chain interaction, upgrade patterns (e.g., UUPS/1967), verification/attester logic, and operational sequences.
Include clear figure ideas (FIG. 1…N).
Avoid marketing; be technical and enabling.
`, title, noteOrNone(note), summary)
}

const governanceSystem = `
You are designing on-chain governance via **Aragon** (DAO with role-based permissions and proposal execution).
From technical summaries, produce a Markdown report recommending which functions should be gated by **community votes** and how to wire them in Aragon.

Output strictly in this structure:

# Title
# Executive Summary
# Scope & Assumptions
- Contracts reviewed
- Proxy/upgrade pattern (if any)
- Access-control model detected (Ownable / AccessControl / custom)

# Critical Controls (MUST require DAO vote)
For each item:
- Function signature(s) and contract
- Current gate (e.g., onlyOwner, DEFAULT_ADMIN_ROLE, custom)
- Rationale (security/economic impact)
- Proposed Aragon execution: (Aragon action → target contract → calldata template)

# Configurable Parameters (SHOULD require DAO vote or parameter-change vote type)
List setters like: fee %, treasury addr, oracle addr, thresholds, time locks, emission rates, caps.

# Emergency Powers (DAO or Security Council?)
Pause/unpause, circuit breakers. Recommend: DAO vote or faster multisig with later DAO ratification. Include exact function names.

# Upgrades & Proxies
Identify authorizeUpgrade/upgradeTo/upgradeToAndCall/proxy admin changes. Recommend DAO control and minimal timelock.

# Treasury & Token Supply
Mint/burn, withdraw/transfer, sweeping functions. Map to DAO permissions.

# Governance Mapping to Aragon
Provide a table:
| Category | Contract | Function | Required Role/Permission | Aragon Action (target + calldata) |
Explain how to implement via Aragon OSx Permissions (e.g., grant permission to DAO executor) or custom DAO plugin.

# Exclusions (Developer/Automation OK)
Functions that do NOT need DAO (pure/view, user flows, read-only, internal maintenance) and why.

# Risks if Misconfigured
Concise list of hazards.

# Implementation Steps (Aragon OSx)
Step-by-step:
1) Deploy DAO and executor
2) Register permissions per table
3) Point ProxyAdmin/UUPS hooks to DAO
4) Configure timelocks / pause roles
5) Create proposal templates with calldata examples

# Appendix: Function Index
Per contract: list candidate functions by signature with brief rationale.

Guidelines:
- Be specific; quote exact function names.
- Prefer DAO control over: upgrades, pausability, treasury, mint/burn, fee/param setters, allowlists/blacklists, role-granting.
- If AccessControl is used, recommend mapping ADMIN roles to DAO and scoping granular roles.
- Provide calldata examples in human-readable pseudocode (no hex needed).
`

func governanceUser(title, note, summary string) string {
	return fmt.Sprintf(`
Project: %s

Author note (if any):
%s

Aggregated technical summaries (from contracts/):
%s

Produce the governance report per structure. Focus on which functions should be **controlled by Aragon community votes**, with precise function signatures, current modifiers/roles, and actionable Aragon wiring.
`, title, noteOrNone(note), summary)
}

const whitepaperSystem = `
You are a seasoned protocol/DeFi author. Draft a **Web3 whitepaper** that is technically rigorous, implementer-oriented, and investor-comprehensible, with no hype.

Write in clear Markdown with these sections (strict order):

# Title
# Abstract
# Problem & Motivation
# Design Overview
# Architecture
  - On-Chain Components (contracts, roles, storage, events, upgradeability)
  - Off-Chain Components (indexers, oracles, relayers, frontends)
  - Data Flows (sequence diagrams in text form)
# Protocol Mechanics
  - Lifecycle (setup → operation → updates)
  - Cryptography & Signatures
  - Invariants & Safety Properties
# Economic/Token Model (if applicable)
  - Utility, Supply, Emissions, Fees/Revenue
  - Incentives & Game-Theoretic Considerations
# Governance
  - Parameters, Upgrades (e.g., UUPS/1967), Vote/Escrow Models
# Security Considerations
  - Threat Model, Trust Assumptions, Known Risks, Mitigations
# Compliance & Operational Notes
  - Jurisdictional considerations, KYC/AML touchpoints (if any)
# Reference Implementation Notes
  - Frontend (TSX), Backend/Indexers, Solidity Contracts
# Performance & Costs
  - Gas/cost drivers, batching, caching, L2/L3 options
# Interoperability
  - Bridges/wrappers, standards (ERC-20/2612/20Votes, etc.)
# Roadmap
  - Milestones, audits, mainnet plans
# Figures
  - FIG.1…N (caption-only suggestions to illustrate flows)
# Glossary
# References

Style guidelines:
- Be specific: include storage slots/structures, events, and access controls; name key contracts/modules.
- Provide sequence-style text diagrams (e.g., User → Frontend → Contract → Event…).
- Avoid marketing language. Use precise, falsifiable statements.
- Prefer bullets, tables, and step lists where clarity improves.
`

func whitepaperUser(title, note, summary string) string {
	return fmt.Sprintf(`
Project name: %s

High-level context (author note):
%s

Aggregated technical summaries:
%s

Draft the Web3 whitepaper per the required structure. Emphasize:
- Attester registries, threshold/time-lock release logic, upgrade patterns (UUPS/1967), signature/auth flows.
- Exact on-chain state, events, and role permissions.
- Off-chain components (e.g., phone-blob recovery, relayers/indexers) and how they interact with contracts.
- Economic/governance mechanisms only if truly present in the codebase; otherwise mark as "not applicable".
- Include concrete, text-only sequence diagrams and actionable figure suggestions (FIG.1…N).
`, title, noteOrNone(note), summary)
}
