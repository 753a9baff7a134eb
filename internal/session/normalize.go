package session

import (
	"fmt"
	"math"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/ashureev/crmchat/internal/domain"
)

// extractor pulls one candidate value out of a loosely shaped payload.
type extractor func(payload map[string]any) string

// fieldExtractors returns the candidates for a canonical field in precedence
// order: field, Field, preferences.field, preferences.Field.
func fieldExtractors(field string) []extractor {
	capitalized := capitalize(field)
	return []extractor{
		direct(field),
		direct(capitalized),
		nested("preferences", field),
		nested("preferences", capitalized),
	}
}

var profileFields = map[string]func(*domain.Profile) *string{
	"name":    func(p *domain.Profile) *string { return &p.Name },
	"email":   func(p *domain.Profile) *string { return &p.Email },
	"company": func(p *domain.Profile) *string { return &p.Company },
	"role":    func(p *domain.Profile) *string { return &p.Role },
	"phone":   func(p *domain.Profile) *string { return &p.Phone },
}

// NormalizeProfile maps a CRM payload onto the canonical profile. Each field
// takes the first non-empty candidate; a field with none is "".
func NormalizeProfile(payload map[string]any) domain.Profile {
	var p domain.Profile
	if payload == nil {
		return p
	}
	for field, target := range profileFields {
		*target(&p) = firstNonEmpty(payload, fieldExtractors(field))
	}
	return p
}

// PayloadUserID returns the user id carried by a CRM payload.
func PayloadUserID(payload map[string]any) string {
	return firstNonEmpty(payload, []extractor{direct("id"), direct("Id"), direct("ID"), direct("user_id")})
}

func firstNonEmpty(payload map[string]any, candidates []extractor) string {
	for _, extract := range candidates {
		if v := extract(payload); v != "" {
			return v
		}
	}
	return ""
}

func direct(key string) extractor {
	return func(payload map[string]any) string {
		return stringValue(payload[key])
	}
}

func nested(parent, key string) extractor {
	return func(payload map[string]any) string {
		inner, ok := payload[parent].(map[string]any)
		if !ok {
			return ""
		}
		return stringValue(inner[key])
	}
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int, int64:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
