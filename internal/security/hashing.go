package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword is returned by Hash when there is nothing to hash.
var ErrEmptyPassword = errors.New("password is empty")

// PasswordHasher is the one-way password digest used by the auth service.
// Verify reports a mismatch as (false, nil); a non-nil error means the digest
// itself could not be evaluated.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) (bool, error)
}

// Bcrypt hashes passwords with a fixed bcrypt cost. Plaintext passwords are
// never logged or persisted.
type Bcrypt struct {
	Cost int
}

// NewBcrypt clamps cost into bcrypt's accepted range; zero selects 12.
func NewBcrypt(cost int) *Bcrypt {
	switch {
	case cost <= 0:
		cost = 12
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &Bcrypt{Cost: cost}
}

func (b *Bcrypt) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.Cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *Bcrypt) Verify(password, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}
