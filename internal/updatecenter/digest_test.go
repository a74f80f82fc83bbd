package updatecenter

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"strings"
	"testing"
)

func TestStreamDigest_ComputesAllThreeDigests(t *testing.T) {
	payload := []byte("hello update center")
	var dest bytes.Buffer

	result, err := StreamDigest(&dest, bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantSHA1 := sha1.Sum(payload)
	wantSHA256 := sha256.Sum256(payload)
	wantSHA512 := sha512.Sum512(payload)

	if result.SHA1 != base64.StdEncoding.EncodeToString(wantSHA1[:]) {
		t.Errorf("SHA1 mismatch")
	}
	if result.SHA256 != base64.StdEncoding.EncodeToString(wantSHA256[:]) {
		t.Errorf("SHA256 mismatch")
	}
	if result.SHA512 != base64.StdEncoding.EncodeToString(wantSHA512[:]) {
		t.Errorf("SHA512 mismatch")
	}
	if !result.SHA512OK {
		t.Error("expected SHA512OK to be true")
	}
	if result.BytesRead != int64(len(payload)) {
		t.Errorf("BytesRead = %d, want %d", result.BytesRead, len(payload))
	}
	if dest.String() != string(payload) {
		t.Error("destination did not receive the full payload")
	}
}

func TestStreamDigest_LengthMismatch(t *testing.T) {
	payload := []byte("short")
	var dest bytes.Buffer

	_, err := StreamDigest(&dest, bytes.NewReader(payload), 999)
	if err == nil {
		t.Fatal("expected LengthMismatch error")
	}
	var lm *LengthMismatch
	if !asLengthMismatch(err, &lm) {
		t.Fatalf("expected *LengthMismatch, got %T: %v", err, err)
	}
	if lm.Declared != 999 || lm.Actual != int64(len(payload)) {
		t.Errorf("unexpected LengthMismatch fields: %+v", lm)
	}
}

func TestStreamDigest_NoLengthCheckWhenNegative(t *testing.T) {
	payload := []byte("no content-length declared")
	var dest bytes.Buffer

	_, err := StreamDigest(&dest, bytes.NewReader(payload), -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStreamDigest_LargeStream(t *testing.T) {
	payload := []byte(strings.Repeat("x", 1<<20))
	var dest bytes.Buffer

	result, err := StreamDigest(&dest, bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BytesRead != int64(len(payload)) {
		t.Errorf("BytesRead = %d, want %d", result.BytesRead, len(payload))
	}
}

func asLengthMismatch(err error, target **LengthMismatch) bool {
	if lm, ok := err.(*LengthMismatch); ok {
		*target = lm
		return true
	}
	return false
}
