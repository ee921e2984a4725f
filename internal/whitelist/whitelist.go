// Package whitelist decides whether a sender address may deliver into a
// mailbox, based on the mailbox's ordered rule list.
//
// Three rule shapes are supported:
//
//	alice@corp.example   exact sender match
//	@corp.example        sender ends with the given suffix
//	*@corp.example       sender's domain equals the given domain
//
// Rules are evaluated first to last; the first match wins. A disabled or
// empty list allows every sender.
package whitelist

import "strings"

// Options controls rule evaluation
type Options struct {
	// CaseInsensitive folds both rule and sender before comparing.
	// Off by default; SMTP local parts are case-sensitive on the wire.
	CaseInsensitive bool
}

// Matcher evaluates sender whitelist rules with fixed options
type Matcher struct {
	opts Options
}

// NewMatcher creates a Matcher
func NewMatcher(opts Options) Matcher {
	return Matcher{opts: opts}
}

// Allowed reports whether the sender may deliver given the mailbox's rule
// list and whitelist flag
func (m Matcher) Allowed(enabled bool, rules []string, sender string) bool {
	if !enabled || len(rules) == 0 {
		return true
	}

	if m.opts.CaseInsensitive {
		sender = strings.ToLower(sender)
	}

	for _, rule := range rules {
		if m.opts.CaseInsensitive {
			rule = strings.ToLower(rule)
		}
		if matches(rule, sender) {
			return true
		}
	}
	return false
}

func matches(rule, sender string) bool {
	switch {
	case strings.HasPrefix(rule, "*@"):
		return senderDomain(sender) == rule[2:]
	case strings.HasPrefix(rule, "@"):
		return strings.HasSuffix(sender, rule)
	default:
		return sender == rule
	}
}

// senderDomain returns the part after the last '@', or "" when absent
func senderDomain(sender string) string {
	idx := strings.LastIndex(sender, "@")
	if idx < 0 {
		return ""
	}
	return sender[idx+1:]
}
