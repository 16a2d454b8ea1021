package directory

import "strings"

// blockedTerms covers administrative, brand, scam, and system keywords.
// Matching is substring in both directions: a candidate containing a blocked
// term is rejected, and so is a candidate contained in one, which defeats
// impersonation patterns like "solink_support_2".
var blockedTerms = []string{
	"admin",
	"administrator",
	"moderator",
	"support",
	"help",
	"helpdesk",
	"official",
	"staff",
	"team",
	"system",
	"root",
	"solink",
	"solana",
	"phantom",
	"wallet",
	"airdrop",
	"giveaway",
	"verify",
	"verified",
	"security",
	"service",
	"bot",
	"null",
	"undefined",
	"anonymous",
}

// isBlocked reports whether nickname collides with the blocklist.
func isBlocked(nickname string) bool {
	for _, term := range blockedTerms {
		if strings.Contains(nickname, term) || strings.Contains(term, nickname) {
			return true
		}
	}
	return false
}
