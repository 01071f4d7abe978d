// Package password guards the destructive commands with one shared
// password.  The configuration holds only its bcrypt hash.
package password

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log" // all kids love log

	"golang.org/x/crypto/bcrypt"
)

var ErrWrongPassword = errors.New("incorrect password")

func Hash(pw string) string {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("can't hash password: %v", err)
	}
	return base64.RawStdEncoding.EncodeToString(bytes)
}

type Checker struct {
	hash []byte
}

// NewChecker takes a hash as produced by Hash.
func NewChecker(encoded string) (*Checker, error) {
	if encoded == "" {
		return nil, errors.New("no password hash configured")
	}
	bytes, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("can't decode hashed password: %w", err)
	}
	return &Checker{hash: bytes}, nil
}

func (ch *Checker) Validate(pw string) error {
	if err := bcrypt.CompareHashAndPassword(ch.hash, []byte(pw)); err != nil {
		return ErrWrongPassword
	}
	return nil
}
