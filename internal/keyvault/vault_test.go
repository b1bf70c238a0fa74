package keyvault

import (
	"bytes"
	"errors"
	"testing"
)

func mustVault(t *testing.T, key string) *Vault {
	t.Helper()
	v, err := New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestNew_RequiresMasterKey(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrNoMasterKey) {
		t.Fatalf("expected ErrNoMasterKey, got %v", err)
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	v := mustVault(t, "master")
	pt := []byte("AAAAA-BBBBB-CCCCC")

	s, err := v.Seal(pt)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(s.IV) != ivSize || len(s.Tag) != tagSize || len(s.Ciphertext) != len(pt) {
		t.Fatalf("unexpected sizes: iv=%d tag=%d ct=%d", len(s.IV), len(s.Tag), len(s.Ciphertext))
	}
	if bytes.Contains(s.Ciphertext, pt) {
		t.Fatalf("ciphertext leaks plaintext")
	}
	got, err := v.Open(s)
	if err != nil || !bytes.Equal(got, pt) {
		t.Fatalf("Open: got=%q err=%v", got, err)
	}

	// fresh IV per seal
	s2, _ := v.Seal(pt)
	if bytes.Equal(s.IV, s2.IV) {
		t.Fatalf("IV reused across seals")
	}
}

func TestOpen_FailsOnTamperOrWrongKey(t *testing.T) {
	v := mustVault(t, "master")
	s, _ := v.Seal([]byte("KEY-1"))

	bad := Sealed{Ciphertext: append([]byte(nil), s.Ciphertext...), IV: s.IV, Tag: s.Tag}
	bad.Ciphertext[0] ^= 0xff
	if _, err := v.Open(bad); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("tampered ciphertext: want ErrDecrypt, got %v", err)
	}
	if _, err := v.Open(Sealed{Ciphertext: s.Ciphertext, IV: s.IV[:4], Tag: s.Tag}); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("short IV: want ErrDecrypt, got %v", err)
	}

	other := mustVault(t, "other-master")
	if _, err := other.Open(s); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("wrong key: want ErrDecrypt, got %v", err)
	}
}

func TestHash_StableHex(t *testing.T) {
	a, b := Hash([]byte("k")), Hash([]byte("k"))
	if a != b || len(a) != 64 {
		t.Fatalf("hash unstable or wrong length: %q %q", a, b)
	}
	if Hash([]byte("k2")) == a {
		t.Fatalf("distinct inputs collide")
	}
}
