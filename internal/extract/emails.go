package extract

import (
	"regexp"
	"strings"
)

// MaxEmails caps the emails kept per website.
const MaxEmails = 3

var (
	candidatePattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	verifyPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// denylist rejects placeholder addresses and asset filenames that look like emails.
var denylist = []string{
	"example.com",
	"test.com",
	"wixpress.com",
	"sentry.io",
	"placeholder",
	"yourdomain",
	"domain.com",
	".jpg",
	".png",
	".gif",
	".jpeg",
	".svg",
	".webp",
	"@2x",
	"image",
	"photo",
	"picture",
}

// ExtractFromText returns up to MaxEmails unique lower-cased candidate emails in
// discovery order, after the denylist is applied.
func ExtractFromText(text string) []string {
	matches := candidatePattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, MaxEmails)
	for _, m := range matches {
		email := strings.ToLower(m)
		if denied(email) || !hasDottedDomain(email) {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
		if len(out) == MaxEmails {
			break
		}
	}
	return out
}

// Verify reports whether email has a plausible address shape.
func Verify(email string) bool {
	return verifyPattern.MatchString(email)
}

// Verified filters emails through Verify, preserving order.
func Verified(emails []string) []string {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		if Verify(e) {
			out = append(out, e)
		}
	}
	return out
}

func denied(lower string) bool {
	for _, p := range denylist {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func hasDottedDomain(email string) bool {
	at := strings.LastIndexByte(email, '@')
	return at >= 0 && strings.Contains(email[at+1:], ".")
}
