package auth

import (
	"testing"
)

const testSecret = "test-secret-key"

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT(testSecret, "user@example.com")
	if err != nil {
		t.Fatal(err)
	}

	email, err := ValidateJWT(testSecret, token)
	if err != nil {
		t.Fatal(err)
	}
	if email != "user@example.com" {
		t.Fatalf("subject = %q, want user@example.com", email)
	}
}

func TestValidateJWTRejectsWrongSecret(t *testing.T) {
	token, err := GenerateJWT(testSecret, "user@example.com")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ValidateJWT("some-other-secret", token); err == nil {
		t.Fatal("token validated with the wrong secret")
	}
}

func TestValidateJWTRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := ValidateJWT(testSecret, token); err == nil {
			t.Fatalf("ValidateJWT(%q) succeeded", token)
		}
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-password")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "s3cret-password" {
		t.Fatal("password stored in the clear")
	}

	if !CheckPasswordHash("s3cret-password", hash) {
		t.Fatal("correct password rejected")
	}
	if CheckPasswordHash("wrong-password", hash) {
		t.Fatal("wrong password accepted")
	}
}
