package oidc

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
)

// mapTokenError translates a token endpoint failure into the closed AuthError set.
func mapTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return domainauth.NewAuthError(domainauth.AuthErrUnknown, err)
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	detail := strings.ToLower(re.ErrorCode + " " + re.ErrorDescription + " " + string(re.Body))

	switch {
	case status == http.StatusTooManyRequests,
		strings.Contains(detail, "rate limit"),
		strings.Contains(detail, "over_request_rate_limit"):
		return domainauth.NewAuthError(domainauth.AuthErrRateLimited, err)
	case strings.Contains(detail, "email_not_confirmed"),
		strings.Contains(detail, "email not confirmed"):
		return domainauth.NewAuthError(domainauth.AuthErrEmailUnconfirmed, err)
	case re.ErrorCode == "invalid_grant",
		re.ErrorCode == "invalid_credentials",
		status == http.StatusUnauthorized:
		return domainauth.NewAuthError(domainauth.AuthErrInvalidCredentials, err)
	default:
		return domainauth.NewAuthError(domainauth.AuthErrUnknown, err)
	}
}
