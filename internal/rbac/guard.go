package rbac

import (
	"fmt"
	"strings"
)

// NormalizeID canonicalizes an identity for comparison. Callers hold ids in
// assorted shapes (string, numeric, types with a String method), so equality
// is defined over the trimmed, lower-cased string form rather than any
// concrete type.
func NormalizeID(id any) string {
	var s string
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		s = v
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// IsOwnAccount reports whether actor and target resolve to the same identity.
func IsOwnAccount(actorID, targetID any) bool {
	a := NormalizeID(actorID)
	return a != "" && a == NormalizeID(targetID)
}

// AssertNotSelf rejects an operation whose target is the acting account.
// The action verb is embedded in the message so the caller can surface it
// verbatim ("you cannot deactivate your own account").
func AssertNotSelf(actorID, targetID any, action string) error {
	if IsOwnAccount(actorID, targetID) {
		return fmt.Errorf("%w: you cannot %s your own account", ErrForbidden, action)
	}
	return nil
}
