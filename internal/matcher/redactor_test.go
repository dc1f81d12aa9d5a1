package matcher

import (
	"io"
	"testing"

	"guarddog/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRedact_TypeSpecificPlaceholder(t *testing.T) {
	r := NewRedactor(quietLogger())
	text := "contact me at a@b.com or 123-45-6789"
	matches := Match(text, []model.PatternRule{emailPattern})
	require.Len(t, matches, 1)

	out := r.Redact(text, matches[0])

	assert.Equal(t, "contact me at [EMAIL_REDACTED] or 123-45-6789", out)
}

func TestRedact_NeverContainsMatchedSpan(t *testing.T) {
	r := NewRedactor(quietLogger())
	patterns := []model.PatternRule{ssnPattern, phonePattern, emailPattern}
	texts := []string{
		"ssn 123-45-6789, again 123-45-6789",
		"phone 555-123-4567 / 555.123.4567",
		"x@y.io y@x.io x@y.io",
		"1234567890123",
		"overlap 123-45-67890",
	}

	for _, text := range texts {
		for _, m := range Match(text, patterns) {
			out := r.Redact(text, m)
			assert.NotContains(t, out, m.Span, "text %q", text)
		}
	}
}

func TestRedact_Deterministic(t *testing.T) {
	r := NewRedactor(quietLogger())
	text := "id 123-45-6789"
	m := Match(text, []model.PatternRule{ssnPattern})[0]

	assert.Equal(t, r.Redact(text, m), r.Redact(text, m))
}

func TestRedactAll_MergesOverlappingTypes(t *testing.T) {
	r := NewRedactor(quietLogger())
	text := "call 123-456-7890 now"
	matches := Match(text, []model.PatternRule{phonePattern, pattern("digits", `\d{3}-\d{4}`)})
	require.Len(t, matches, 2)

	out := r.RedactAll(text, matches)

	assert.Equal(t, "call [PHONE_REDACTED] now", out)
}

func TestRedactAll_RemovesEveryDetectedType(t *testing.T) {
	r := NewRedactor(quietLogger())
	text := "contact me at a@b.com or 123-45-6789"
	matches := Match(text, []model.PatternRule{emailPattern, ssnPattern})

	out := r.RedactAll(text, matches)

	assert.Equal(t, "contact me at [EMAIL_REDACTED] or [SSN_REDACTED]", out)
}

func TestPlaceholder_FallbackAndRegistration(t *testing.T) {
	r := NewRedactor(quietLogger())

	assert.Equal(t, GenericPlaceholder, r.Placeholder("passport"))

	r.Register("passport", "[PASSPORT_REDACTED]")
	assert.Equal(t, "[PASSPORT_REDACTED]", r.Placeholder("passport"))
}

func TestPlaceholder_RegisterPatterns(t *testing.T) {
	r := NewRedactor(quietLogger())
	p := pattern("api_key", `sk_[a-z0-9]+`)
	p.Placeholder = "[KEY]"

	r.RegisterPatterns([]model.PatternRule{p})
	text := "token sk_abc123"

	assert.Equal(t, "token [KEY]", r.RedactAll(text, Match(text, []model.PatternRule{p})))
}

func TestRedact_SpanInsidePlaceholder(t *testing.T) {
	r := NewRedactor(quietLogger())
	p := pattern("marker", `ED`)
	text := "REDACTED"
	matches := Match(text, []model.PatternRule{p})
	require.NotEmpty(t, matches)

	out := r.RedactAll(text, matches)

	assert.NotContains(t, out, "ED")
}

func TestRedactValue(t *testing.T) {
	r := NewRedactor(quietLogger())
	doc := map[string]interface{}{
		"memo":  "card owner a@b.com",
		"tags":  []interface{}{"ok", "123-45-6789"},
		"total": 12.5,
	}

	out := r.RedactValue(doc, []model.PatternRule{emailPattern, ssnPattern}).(map[string]interface{})

	assert.Equal(t, "card owner [EMAIL_REDACTED]", out["memo"])
	assert.Equal(t, []interface{}{"ok", "[SSN_REDACTED]"}, out["tags"])
	assert.Equal(t, 12.5, out["total"])
	// input untouched
	assert.Equal(t, "card owner a@b.com", doc["memo"])
}
