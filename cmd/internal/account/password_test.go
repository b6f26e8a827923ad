package account

import (
	"errors"
	"strings"
	"testing"
)

func testHasher() Hasher {
	h := DefaultHasher()
	h.Params.MemoryKiB = 8 * 1024
	h.Params.Iterations = 1
	h.Params.Parallelism = 1
	return h
}

func TestHasherRoundTrip(t *testing.T) {
	t.Parallel()

	h := testHasher()
	enc, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(enc, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", enc)
	}

	ok, err := h.Verify(enc, "correct horse battery")
	if err != nil || !ok {
		t.Fatalf("Verify(match)=%v,%v", ok, err)
	}
	ok, err = h.Verify(enc, "wrong horse battery")
	if err != nil || ok {
		t.Fatalf("Verify(mismatch)=%v,%v", ok, err)
	}
}

func TestHasherRejectsBadInput(t *testing.T) {
	t.Parallel()

	h := testHasher()
	if _, err := h.Hash("short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short password err=%v", err)
	}

	for _, enc := range []string{
		"",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=99999999,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
	} {
		if _, err := h.Verify(enc, "whatever123"); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("Verify(%q) err=%v want ErrInvalidHash", enc, err)
		}
	}
}
