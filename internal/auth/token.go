package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired")
	ErrTokenRoom   = errors.New("room mismatch")
)

// GenerateRoomToken builds a join token for the room broadcast channel.
// Format: base64url(roomKey + "." + exp_unix + "." + hex(hmac_sha256(secret, roomKey+"."+exp)))
func GenerateRoomToken(secret, roomKey string, expUnix int64) string {
	msg := roomKey + "." + strconv.FormatInt(expUnix, 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	sig := hex.EncodeToString(mac.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(msg + "." + sig))
}

// ValidateRoomToken parses and validates a join token. The room key may
// itself contain a "/" separator, so the signature and expiry are taken from
// the trailing segments.
func ValidateRoomToken(secret, token, expectRoomKey string, now time.Time, skewSeconds int) (string, int64, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	parts := strings.Split(string(b), ".")
	if len(parts) < 3 {
		return "", 0, ErrTokenFormat
	}
	sigHex := parts[len(parts)-1]
	expStr := parts[len(parts)-2]
	roomKey := strings.Join(parts[:len(parts)-2], ".")
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	if expectRoomKey != "" && roomKey != expectRoomKey {
		return "", 0, ErrTokenRoom
	}
	msg := roomKey + "." + expStr
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	want := mac.Sum(nil)
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	// constant-time compare
	if !hmac.Equal(want, got) {
		return "", 0, ErrTokenSig
	}
	if now.Unix() > exp+int64(skewSeconds) {
		return "", 0, ErrTokenExp
	}
	return roomKey, exp, nil
}
