package curriculum

import (
	"strings"

	"golang.org/x/text/cases"
)

// dotlessI maps every Turkish and Latin I to a plain "i" so names fold the
// same whichever keyboard typed them.
var dotlessI = strings.NewReplacer("İ", "i", "I", "i", "ı", "i")

// CanonicalSubject folds a subject name for comparison. "MATEMATİK" and
// "MATEMATIK" both fold to "matematik".
func CanonicalSubject(name string) string {
	// Casers are stateful and not safe for concurrent use.
	fold := cases.Fold()
	return strings.Join(strings.Fields(fold.String(dotlessI.Replace(name))), " ")
}

// IsMath reports whether a subject name refers to mathematics.
func IsMath(subject string) bool {
	s := CanonicalSubject(subject)
	return strings.Contains(s, "matematik") || strings.Contains(s, "math")
}
