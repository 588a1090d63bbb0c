package localauth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
)

// accountNamespace seeds deterministic user ids for accounts configured without one.
var accountNamespace = uuid.MustParse("6f1f6a3c-4c4e-4d59-9a51-3b7c2f0e8a11")

// Account is a locally configured credential.
type Account struct {
	UserID       string
	Email        string
	PasswordHash string
	Confirmed    bool
}

// ParseAccount reads "email:bcrypt-hash[:unconfirmed][:user-id]".
func ParseAccount(s string) (Account, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 {
		return Account{}, fmt.Errorf("local account %q: want email:hash", s)
	}
	acct := Account{
		Email:        domainauth.NormalizeEmail(parts[0]),
		PasswordHash: parts[1],
		Confirmed:    true,
	}
	for _, extra := range parts[2:] {
		switch {
		case extra == "unconfirmed":
			acct.Confirmed = false
		case extra != "":
			acct.UserID = extra
		}
	}
	if err := acct.validate(); err != nil {
		return Account{}, err
	}
	return acct, nil
}

func (a Account) validate() error {
	if a.Email == "" || !strings.Contains(a.Email, "@") {
		return fmt.Errorf("local account: invalid email %q", a.Email)
	}
	if _, err := bcrypt.Cost([]byte(a.PasswordHash)); err != nil {
		return fmt.Errorf("local account %s: password hash is not bcrypt: %w", a.Email, err)
	}
	return nil
}

func (a Account) identity() domainauth.Identity {
	id := a.UserID
	if id == "" {
		id = uuid.NewSHA1(accountNamespace, []byte(a.Email)).String()
	}
	return domainauth.Identity{UserID: id, Email: a.Email}
}

// HashPassword hashes a plaintext password for use in an account entry.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
