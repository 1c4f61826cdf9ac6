package downloader

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/skyline-signage/player-core/internal/playererr"
)

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func TestVerifyMD5NoDeclaredHash(t *testing.T) {
	if err := verifyMD5([]byte("anything"), ""); err != nil {
		t.Fatalf("expected no error when CMS supplies no hash, got %v", err)
	}
}

func TestVerifyMD5Match(t *testing.T) {
	data := []byte("hello world")
	if err := verifyMD5(data, md5Hex(data)); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
}

func TestVerifyMD5Mismatch(t *testing.T) {
	if err := verifyMD5([]byte("hello"), md5Hex([]byte("goodbye"))); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestCheckIntegrityRejectPolicy(t *testing.T) {
	info := FileInfo{MD5: md5Hex([]byte("good"))}
	commit, err := checkIntegrity("test.op", info, []byte("bad"), IntegrityReject)
	if commit {
		t.Error("IntegrityReject should not commit on mismatch")
	}
	if !playererr.Is(err, playererr.Integrity) {
		t.Errorf("expected an Integrity error, got %v", err)
	}
}

func TestCheckIntegrityWarnPolicy(t *testing.T) {
	info := FileInfo{MD5: md5Hex([]byte("good"))}
	commit, err := checkIntegrity("test.op", info, []byte("bad"), IntegrityWarn)
	if !commit {
		t.Error("IntegrityWarn should commit despite mismatch")
	}
	if !playererr.Is(err, playererr.Integrity) {
		t.Errorf("expected the mismatch surfaced as an Integrity error, got %v", err)
	}
}

func TestCheckIntegrityMatchCommitsCleanly(t *testing.T) {
	data := []byte("exact content")
	info := FileInfo{MD5: md5Hex(data)}
	commit, err := checkIntegrity("test.op", info, data, IntegrityReject)
	if !commit || err != nil {
		t.Fatalf("expected clean commit, got commit=%v err=%v", commit, err)
	}
}
