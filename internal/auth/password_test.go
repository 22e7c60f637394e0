package auth

import "testing"

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cretpass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "s3cretpass" {
		t.Fatal("hash equals plaintext")
	}
	if err := VerifyPassword(hash, "s3cretpass"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyPassword(hash, "wrongpass1"); err == nil {
		t.Fatal("wrong password verified")
	}
}

func TestHashPasswordRejectsShort(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Fatal("short password accepted")
	}
}
