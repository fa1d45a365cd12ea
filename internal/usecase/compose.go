package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"lead-qualifier/internal/domain"
)

// Language is the dialogue language picked when a conversation is created.
type Language string

const (
	LanguageSpanish Language = "es"
	LanguageEnglish Language = "en"
)

const bullet = "•"

var (
	nonDigits          = regexp.MustCompile(`\D`)
	internationalZeros = regexp.MustCompile(`^00+`)
	localMobileNumber  = regexp.MustCompile(`^[6789]\d{8}$`)
	leadingGlyphs      = regexp.MustCompile(`^[•*\-]+\s*`)
	newlines           = regexp.MustCompile(`\n+`)
	semicolons         = regexp.MustCompile(`;\s*`)
)

// ResolveLanguage classifies a phone number as local (Spanish) or
// international (English). Empty numbers are local.
func ResolveLanguage(phone string) Language {
	d := internationalZeros.ReplaceAllString(nonDigits.ReplaceAllString(phone, ""), "")
	if d == "" || strings.HasPrefix(d, "34") || localMobileNumber.MatchString(d) {
		return LanguageSpanish
	}
	return LanguageEnglish
}

// SplitFeatures breaks listing feature text into items. Newlines win over
// semicolons, which win over commas; commas inside parentheses never split.
// Leading bullet glyphs are removed from each item.
func SplitFeatures(text string) []string {
	normalized := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if normalized == "" {
		return nil
	}
	parts := nonEmpty(newlines.Split(normalized, -1))
	if len(parts) <= 1 {
		parts = nonEmpty(semicolons.Split(normalized, -1))
	}
	if len(parts) <= 1 {
		parts = splitCommasOutsideParens(normalized)
	}
	if len(parts) <= 1 {
		parts = []string{normalized}
	}
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if item := cleanFeature(p); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func cleanFeature(s string) string {
	return strings.TrimSpace(leadingGlyphs.ReplaceAllString(strings.TrimSpace(s), ""))
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitCommasOutsideParens(text string) []string {
	var (
		segments []string
		buf      strings.Builder
		depth    int
	)
	flush := func() {
		if seg := strings.TrimSpace(buf.String()); seg != "" {
			segments = append(segments, seg)
		}
		buf.Reset()
	}
	for _, r := range text {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				flush()
				continue
			}
		}
		buf.WriteRune(r)
	}
	flush()
	return segments
}

func formatFeatureList(features string, lang Language) string {
	items := SplitFeatures(features)
	if len(items) == 0 {
		if lang == LanguageEnglish {
			return bullet + " Property details are not available at the moment"
		}
		return bullet + " Información no disponible por el momento"
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = bullet + " " + item
	}
	return strings.Join(lines, "\n")
}

// compactLines joins lines, collapsing blank runs and trimming blank edges.
func compactLines(lines ...string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l == "" && (len(out) == 0 || out[len(out)-1] == "") {
			continue
		}
		out = append(out, l)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// Openers configures the first two messages of a conversation.
type Openers struct {
	AgentName  string
	ProfileURL string
}

// Compose returns the profile greeting followed by the listing interest
// message with its bulleted features.
func (o Openers) Compose(kind domain.OperationKind, link, features string, lang Language) []string {
	list := formatFeatureList(features, lang)

	if lang == LanguageEnglish {
		framing := "for rent"
		if kind.IsSale() {
			framing = "for sale"
		}
		greeting := "Hi, I'm your virtual property assistant, it's a pleasure to help you."
		if o.AgentName != "" {
			greeting = fmt.Sprintf("Hi, I'm the virtual assistant of %s, it's a pleasure to help you.", o.AgentName)
		}
		follow := ""
		if o.ProfileURL != "" {
			follow = "Don't forget to follow me, there are all kinds of real estate opportunities on this profile 👇"
		}
		return []string{
			compactLines(greeting, "", follow, "", o.ProfileURL),
			compactLines(
				fmt.Sprintf("You've shown interest in this property %s 👇", framing),
				"", link, "",
				"Just to confirm, have you reviewed the property highlights?",
				"", list, "",
				"* If I ever say something that doesn't apply, thanks for understanding. I'm improved every day to deliver the best service 🤩",
			),
		}
	}

	framing := "en alquiler"
	if kind.IsSale() {
		framing = "en venta"
	}
	greeting := "Hola, soy tu asistente inmobiliario virtual, un placer atenderte."
	if o.AgentName != "" {
		greeting = fmt.Sprintf("Hola, soy el colaborador virtual de %s, un placer atenderte.", o.AgentName)
	}
	follow := ""
	if o.ProfileURL != "" {
		follow = "No olvides seguirme, encontrarás todo tipo de oportunidades inmobiliarias en este perfil 👇"
	}
	return []string{
		compactLines(greeting, "", follow, "", o.ProfileURL),
		compactLines(
			fmt.Sprintf("Te has interesado en esta vivienda %s 👇", framing),
			"", link, "",
			"Por confirmar, ¿has visto las características?",
			"", list, "",
			"* Si en algún momento digo algo que no procede, pido comprensión, cada día me están mejorando para dar el mejor servicio 🤩",
		),
	}
}
