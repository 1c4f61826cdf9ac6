package downloader

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/skyline-signage/player-core/internal/playererr"
)

// verifyMD5 checks data against the CMS-declared MD5, following the shape of
// the teacher's VerifyReconstructedFile (pkg/content/integrity.go) but
// against an MD5 digest instead of SHA256, per §4.3's integrity contract. An
// empty want is treated as "CMS did not supply a hash" and always passes.
func verifyMD5(data []byte, want string) error {
	if want == "" {
		return nil
	}
	sum := md5.Sum(data)
	got := hex.EncodeToString(sum[:])
	if got != want {
		return fmt.Errorf("md5 mismatch: expected %s, got %s", want, got)
	}
	return nil
}

// checkIntegrity applies the task's IntegrityPolicy to a completed download.
// Under IntegrityReject a mismatch fails the task outright; under
// IntegrityWarn it is downgraded to a playererr.Integrity error that the
// caller commits anyway and reports as a fault (§4.3, §8 scenario 6).
func checkIntegrity(op string, info FileInfo, data []byte, policy IntegrityPolicy) (commit bool, err error) {
	verifyErr := verifyMD5(data, info.MD5)
	if verifyErr == nil {
		return true, nil
	}
	wrapped := playererr.Wrap(playererr.Integrity, op, "downloaded content failed MD5 verification", verifyErr)
	switch policy {
	case IntegrityReject:
		return false, wrapped
	case IntegrityWarn:
		return true, wrapped
	default:
		return false, wrapped
	}
}
