package domain

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	MaxRoomCodeLen = 16
	// GeneratedCodeLen is the length of codes handed out by NewRoomCode.
	GeneratedCodeLen = 4
)

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	ErrRoomCodeEmpty   = errors.New("room code empty")
	ErrRoomCodeTooLong = errors.New("room code too long")
	ErrRoomCodeInvalid = errors.New("room code has invalid characters")
)

// RoomCode is the short, human-entered token identifying a room.
// Codes are case-normalized: "ab12" and "AB12" name the same room.
type RoomCode string

func (c RoomCode) String() string { return string(c) }

// ParseRoomCode normalizes raw user input into a RoomCode.
func ParseRoomCode(raw string) (RoomCode, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", ErrRoomCodeEmpty
	}
	if len(code) > MaxRoomCodeLen {
		return "", ErrRoomCodeTooLong
	}
	for _, r := range code {
		if !strings.ContainsRune(roomCodeAlphabet, r) && r != '-' {
			return "", ErrRoomCodeInvalid
		}
	}
	return RoomCode(code), nil
}

// NewRoomCode returns a random code that taken reports as free.
func NewRoomCode(taken func(RoomCode) bool) RoomCode {
	for {
		b := make([]byte, GeneratedCodeLen)
		for i := range b {
			b[i] = roomCodeAlphabet[randomIndex(len(roomCodeAlphabet))]
		}
		code := RoomCode(b)
		if taken == nil || !taken(code) {
			return code
		}
	}
}

func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("room code: crypto/rand failed: " + err.Error())
	}
	return int(n.Int64())
}
