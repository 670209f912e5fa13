// Package safety screens outgoing message content for off-platform
// contact leakage and publishes moderation events for flagged messages.
package safety

import (
	"regexp"
	"strings"
)

// Result is the outcome of screening one message body.
// Blocked content must not be persisted; flagged content is stored and
// shown with a safety indicator, the flag is informational only.
type Result struct {
	Blocked bool
	Flagged bool
	Matches []string
}

// Patterns that leak a direct contact channel. These hard-block the send.
var blockPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"email_address", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"phone_number", regexp.MustCompile(`(\+?\d[\d\s().\-]{7,}\d)`)},
}

// Phrases that suggest moving the transaction off-platform. These flag
// the message for moderator review without blocking it.
var flagPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"messenger_mention", regexp.MustCompile(`(?i)\b(whatsapp|telegram|signal|wechat|viber)\b`)},
	{"offsite_payment", regexp.MustCompile(`(?i)\b(venmo|paypal|zelle|cash\s*app|bank\s*transfer)\b`)},
	{"offsite_meeting", regexp.MustCompile(`(?i)\b(off\s*the\s*(app|platform|site)|outside\s*the\s*(app|platform|site))\b`)},
}

// Screen evaluates a message body against the block and flag patterns.
func Screen(content string) Result {
	content = strings.TrimSpace(content)
	if content == "" {
		return Result{}
	}
	var res Result
	for _, p := range blockPatterns {
		if p.re.MatchString(content) {
			res.Blocked = true
			res.Matches = append(res.Matches, p.name)
		}
	}
	for _, p := range flagPatterns {
		if p.re.MatchString(content) {
			res.Flagged = true
			res.Matches = append(res.Matches, p.name)
		}
	}
	return res
}
