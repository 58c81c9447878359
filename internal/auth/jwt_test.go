package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func TestJWTRoundTrip(t *testing.T) {
	addr := "0:abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"

	token, err := GenerateJWT(testSecret, addr, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ParseJWT(testSecret, token)
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.Address != addr {
		t.Errorf("address = %q, want %q", claims.Address, addr)
	}
}

func TestJWTWrongSecret(t *testing.T) {
	token, err := GenerateJWT(testSecret, "0:addr", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ParseJWT("other-secret", token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestJWTExpired(t *testing.T) {
	claims := Claims{
		Address: "0:addr",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ParseJWT(testSecret, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestJWTMissingAddress(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ParseJWT(testSecret, token); err == nil {
		t.Fatal("expected error for token without address claim")
	}
}

func TestJWTGarbage(t *testing.T) {
	if _, err := ParseJWT(testSecret, "not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
