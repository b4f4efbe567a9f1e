package proxy

import (
	"strings"

	"quern/pkg/types"
)

// MatchesLocal evaluates the subset of mitmproxy's filter syntax Quern needs
// to reason about locally: `~d <domain>` (host suffix), `~m <method>`,
// `~u <path substring>`, combined with `&`. The addon owns full filter
// evaluation against the live request; this is only used server-side to
// decide things like whether a synthesized mock flow also matches the
// active intercept filter.
func MatchesLocal(expr string, flow *types.Flow) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}
	for _, clause := range strings.Split(expr, "&") {
		if !matchClause(strings.TrimSpace(clause), flow) {
			return false
		}
	}
	return true
}

func matchClause(clause string, flow *types.Flow) bool {
	fields := strings.SplitN(clause, " ", 2)
	if len(fields) != 2 {
		return true // unrecognized clause: don't block on it, the addon is authoritative
	}
	op, arg := fields[0], strings.TrimSpace(fields[1])
	switch op {
	case "~d":
		return strings.HasSuffix(flow.Request.Host, arg)
	case "~m":
		return strings.EqualFold(flow.Request.Method, arg)
	case "~u":
		return strings.Contains(flow.Request.Path, arg)
	default:
		return true
	}
}
