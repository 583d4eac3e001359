package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"action": "opened"}`)
	secret := "webhook-secret"

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		want      bool
	}{
		{
			name:      "valid signature",
			secret:    secret,
			body:      body,
			signature: sign(secret, body),
			want:      true,
		},
		{
			name:      "wrong secret",
			secret:    secret,
			body:      body,
			signature: sign("other-secret", body),
			want:      false,
		},
		{
			name:      "mutated body",
			secret:    secret,
			body:      []byte(`{"action": "opened" }`),
			signature: sign(secret, body),
			want:      false,
		},
		{
			name:      "mutated signature",
			secret:    secret,
			body:      body,
			signature: "0" + sign(secret, body)[1:],
			want:      false,
		},
		{
			name:      "missing signature",
			secret:    secret,
			body:      body,
			signature: "",
			want:      false,
		},
		{
			name:      "no secret accepts everything",
			secret:    "",
			body:      body,
			signature: "",
			want:      true,
		},
		{
			name:      "no secret ignores provided signature",
			secret:    "",
			body:      body,
			signature: "bogus",
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.body, tt.signature); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifySignatureSingleByteMutations(t *testing.T) {
	body := []byte("payload body")
	secret := "s"
	valid := sign(secret, body)

	for i := range body {
		mutated := make([]byte, len(body))
		copy(mutated, body)
		mutated[i] ^= 0x01
		if VerifySignature(secret, mutated, valid) {
			t.Errorf("mutation at byte %d accepted", i)
		}
	}
}
