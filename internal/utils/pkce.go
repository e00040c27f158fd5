package utils

import "golang.org/x/oauth2"

// NewCodeVerifier returns a high-entropy PKCE code verifier (RFC 7636, 43 characters)
func NewCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// CodeChallengeS256 derives the S256 code challenge for verifier
func CodeChallengeS256(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
