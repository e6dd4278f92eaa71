package crypto

import (
	"errors"
	"testing"
)

func TestFieldCodecRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	codec, err := NewFieldCodec(key)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	for _, plain := range []string{"A1B2C3D4", "María González", "x"} {
		ct, err := codec.Encrypt(plain)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plain, err)
		}
		if ct == plain {
			t.Fatalf("ciphertext equals plaintext for %q", plain)
		}
		got, err := codec.Decrypt(ct)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plain, err)
		}
		if got != plain {
			t.Fatalf("round trip: got %q, want %q", got, plain)
		}
	}
}

func TestFieldCodecEmptyStringIdentity(t *testing.T) {
	key, _ := GenerateKey()
	codec, err := NewFieldCodec(key)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	if ct, err := codec.Encrypt(""); err != nil || ct != "" {
		t.Fatalf("Encrypt(\"\") = %q, %v; want \"\", nil", ct, err)
	}
	if pt, err := codec.Decrypt(""); err != nil || pt != "" {
		t.Fatalf("Decrypt(\"\") = %q, %v; want \"\", nil", pt, err)
	}
}

func TestFieldCodecNondeterministic(t *testing.T) {
	key, _ := GenerateKey()
	codec, _ := NewFieldCodec(key)

	a, _ := codec.Encrypt("same-card")
	b, _ := codec.Encrypt("same-card")
	if a == b {
		t.Fatal("two encryptions of the same plaintext must differ")
	}
}

func TestNewFieldCodecRejectsBadKeys(t *testing.T) {
	cases := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"not base64", "!!!not-base64!!!"},
		{"too short", "c2hvcnQ="}, // "short"
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewFieldCodec(tc.key); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("got %v, want ErrInvalidKey", err)
			}
		})
	}
}

func TestDecryptCorruptCiphertext(t *testing.T) {
	key, _ := GenerateKey()
	codec, _ := NewFieldCodec(key)

	for _, ct := range []string{"not base64 at all!!!", "c2hvcnQ=", "AAAA"} {
		_, err := codec.Decrypt(ct)
		if err == nil {
			t.Fatalf("decrypt %q: expected error", ct)
		}
		if !IsDecryptionError(err) {
			t.Fatalf("decrypt %q: got %v, want DecryptionError", ct, err)
		}
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	c1, _ := NewFieldCodec(k1)
	c2, _ := NewFieldCodec(k2)

	ct, err := c1.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := c2.Decrypt(ct); !IsDecryptionError(err) {
		t.Fatalf("got %v, want DecryptionError", err)
	}
}
