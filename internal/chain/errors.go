package chain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// VerificationError reports a block that violates consensus rules. The
// offending block is never written to the store.
type VerificationError struct {
	Hash   chainhash.Hash
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("block %s failed verification: %s: %v", e.Hash, e.Reason, e.Err)
	}
	return fmt.Sprintf("block %s failed verification: %s", e.Hash, e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Err }

func verificationErr(hash chainhash.Hash, format string, args ...any) *VerificationError {
	return &VerificationError{Hash: hash, Reason: fmt.Sprintf(format, args...)}
}

// PrunedError reports that a re-organization needed undo data for a block the
// store no longer has. The caller can fetch the full block and retry.
type PrunedError struct {
	Hash chainhash.Hash
}

func (e *PrunedError) Error() string {
	return fmt.Sprintf("undo data for block %s has been pruned", e.Hash)
}

// IsVerification reports whether err is (or wraps) a VerificationError.
func IsVerification(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}

// IsPruned reports whether err is (or wraps) a PrunedError.
func IsPruned(err error) bool {
	var pe *PrunedError
	return errors.As(err, &pe)
}
