// Package subject implements the dot-separated hierarchical subject
// grammar and wildcard pattern matching described in SPEC_FULL.md §4.1,
// generalized from the colon-separated topic matching in the teacher's
// orchestrator.EventBridge.topicMatches into NATS-style `*`/`>` wildcards.
package subject

import (
	"strings"

	"github.com/relaybus/relay/internal/relayerr"
)

const (
	maxTokens = 8
	maxLength = 256
)

// Valid reports whether s is a well-formed plain subject: 1-8 tokens,
// tokens in [A-Za-z0-9_-], total length <= 256, no wildcards.
func Valid(s string) error {
	if len(s) == 0 || len(s) > maxLength {
		return relayerr.New(relayerr.InvalidSubject, "subject length must be 1-256 characters")
	}
	tokens := strings.Split(s, ".")
	if len(tokens) > maxTokens {
		return relayerr.New(relayerr.InvalidSubject, "subject must have at most 8 tokens")
	}
	for _, tok := range tokens {
		if tok == "" {
			return relayerr.New(relayerr.InvalidSubject, "subject tokens must not be empty")
		}
		if !validToken(tok) {
			return relayerr.New(relayerr.InvalidSubject, "subject token contains disallowed characters: "+tok)
		}
	}
	return nil
}

// ValidPattern reports whether p is a well-formed matching pattern: like a
// plain subject, but tokens may be `*` and the final token may be `>`.
// A bare `>` matches any non-empty subject.
func ValidPattern(p string) error {
	if len(p) == 0 || len(p) > maxLength {
		return relayerr.New(relayerr.InvalidSubject, "pattern length must be 1-256 characters")
	}
	tokens := strings.Split(p, ".")
	if len(tokens) > maxTokens {
		return relayerr.New(relayerr.InvalidSubject, "pattern must have at most 8 tokens")
	}
	for i, tok := range tokens {
		if tok == "" {
			return relayerr.New(relayerr.InvalidSubject, "pattern tokens must not be empty")
		}
		if tok == ">" {
			if i != len(tokens)-1 {
				return relayerr.New(relayerr.InvalidSubject, "'>' wildcard must be the final token")
			}
			continue
		}
		if tok == "*" {
			continue
		}
		if !validToken(tok) {
			return relayerr.New(relayerr.InvalidSubject, "pattern token contains disallowed characters: "+tok)
		}
	}
	return nil
}

func validToken(tok string) bool {
	for _, r := range tok {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// Matches reports whether subject s satisfies pattern. It is total and
// pure: malformed input simply does not match rather than panicking.
// Callers that need to surface INVALID_SUBJECT should call ValidPattern
// first (at register/subscribe time, per §4.1).
func Matches(pattern, s string) bool {
	if ValidPattern(pattern) != nil || Valid(s) != nil {
		return false
	}

	patTokens := strings.Split(pattern, ".")
	subTokens := strings.Split(s, ".")

	for i, pt := range patTokens {
		if pt == ">" {
			return i < len(subTokens)
		}
		if i >= len(subTokens) {
			return false
		}
		if pt == "*" {
			continue
		}
		if pt != subTokens[i] {
			return false
		}
	}
	return len(patTokens) == len(subTokens)
}
