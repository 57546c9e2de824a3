// Package rsyncauth implements the daemon's MD5 challenge/response
// authentication: the server emits a random challenge alongside
// "@RSYNCD: AUTHREQD", and the client answers with its username and the
// base64-without-padding digest of the password followed by the challenge
// bytes.
package rsyncauth

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// challengeBytes is the length of the random challenge the server issues,
// matching upstream rsync's 16-byte auth challenge.
const challengeBytes = 16

// NewChallenge returns a fresh, base64-without-padding encoded challenge
// string suitable for the "@RSYNCD: AUTHREQD <challenge>" line.
func NewChallenge() (string, error) {
	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating auth challenge: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

// Response computes the client's response to a challenge:
// base64_nopad(MD5(password ∥ challenge)).
func Response(password, challenge string) string {
	h := md5.New()
	h.Write([]byte(password))
	h.Write([]byte(challenge))
	return base64.RawStdEncoding.EncodeToString(h.Sum(nil))
}

// Verify reports whether response is the expected response to challenge
// under password.
func Verify(password, challenge, response string) bool {
	return Response(password, challenge) == response
}
