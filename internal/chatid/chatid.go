// Package chatid canonicalizes messaging-channel chat identifiers. WhatsApp
// exposes the same personal chat under two suffixes; callers only ever see an
// Identity and its lookup candidates.
package chatid

import "strings"

const (
	suffixCanonical = "@s.whatsapp.net"
	suffixLegacy    = "@c.us"
)

var personalSuffixes = []string{suffixCanonical, suffixLegacy}

// Identity is a resolved chat identifier.
type Identity struct {
	// Input is the identifier as received.
	Input string
	// Canonical is the preferred form.
	Canonical string
	// Alternates lists every known form, canonical included.
	Alternates []string
}

// Resolve returns the identity for a chat id. Unknown shapes resolve to
// themselves with no alternates.
func Resolve(id string) Identity {
	id = strings.TrimSpace(id)
	user, ok := personalUser(id)
	if !ok {
		return Identity{Input: id, Canonical: id, Alternates: []string{id}}
	}
	alts := make([]string, 0, len(personalSuffixes))
	for _, suffix := range personalSuffixes {
		alts = append(alts, user+suffix)
	}
	return Identity{Input: id, Canonical: user + suffixCanonical, Alternates: alts}
}

// Candidates returns the lookup order: input form first, then canonical, then
// the remaining alternates, without duplicates.
func (i Identity) Candidates() []string {
	seen := make(map[string]struct{}, len(i.Alternates)+2)
	out := make([]string, 0, len(i.Alternates)+2)
	for _, c := range append([]string{i.Input, i.Canonical}, i.Alternates...) {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// AddressFor builds the chat id used when the gateway does not report one.
func AddressFor(phone string) string {
	return digits(phone) + suffixLegacy
}

func personalUser(id string) (string, bool) {
	for _, suffix := range personalSuffixes {
		if user, found := strings.CutSuffix(id, suffix); found && user != "" {
			return user, true
		}
	}
	return "", false
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
