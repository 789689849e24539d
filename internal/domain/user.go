// Package domain contains entities without logic, just meta-data and validation
package domain

import (
	"errors"
	"strings"
)

const MaxIdentityLen = 64

var (
	ErrIdentityTooLong = errors.New("identity too long")
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityInvalid = errors.New("identity has invalid characters")
	ErrUnknownRole     = errors.New("unknown role")
)

// Identity is the stable, human-readable key of a participant (a username).
// It survives reconnects, unlike a connection id.
type Identity string

func (i Identity) String() string { return string(i) }

// ParseIdentity validates an identity handed over by the auth boundary.
// Identities double as file names for reference samples, so the alphabet is narrow.
func ParseIdentity(raw string) (Identity, error) {
	id := strings.TrimSpace(raw)
	if len(id) == 0 {
		return "", ErrIdentityEmpty
	}
	if len(id) > MaxIdentityLen {
		return "", ErrIdentityTooLong
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-', r == '@':
		default:
			return "", ErrIdentityInvalid
		}
	}
	if strings.HasPrefix(id, ".") {
		return "", ErrIdentityInvalid
	}
	return Identity(id), nil
}

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// ParseRole defaults to RoleStudent on empty input.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RoleStudent:
		return RoleStudent, nil
	case RoleTeacher:
		return RoleTeacher, nil
	}
	return "", ErrUnknownRole
}
