// Package authtest builds an AuthService backed by a throwaway RSA key.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"interviewly/internal/auth"
)

// New 生成 2048 位临时密钥。
func New(t testing.TB) *auth.AuthService {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	svc, err := auth.NewAuthService(privPEM, pubPEM, 15*time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return svc
}

// Bearer returns an Authorization header value for the user.
func Bearer(t testing.TB, svc *auth.AuthService, userID uint, role string) string {
	t.Helper()
	pair, err := svc.GenerateTokenPair(userID, role)
	if err != nil {
		t.Fatalf("generate token pair: %v", err)
	}
	return "Bearer " + pair.AccessToken
}
