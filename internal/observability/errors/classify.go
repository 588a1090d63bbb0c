package errors

import (
	goerrors "errors"
	"reflect"
	"strings"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	apperrors "github.com/astracore/astracore/internal/errors"
)

// Classify returns a normalized error class suitable for tagging metrics/logs.
// Sign-in failures report their AuthError kind and application errors their code;
// anything else falls back to the innermost concrete type name in snake_case-ish form.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if kind, ok := domainauth.AuthErrorKindOf(err); ok {
		return "auth_" + string(kind)
	}
	if code := apperrors.GetCode(err); code != "" {
		return "app_" + string(code)
	}
	if goerrors.Is(err, domainauth.ErrNoSession) {
		return "no_session"
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
