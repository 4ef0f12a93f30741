// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON serializes v with object keys sorted at every nesting
// level. The value is round-tripped through map[string]any so that
// encoding/json's deterministic map ordering applies to struct fields
// and nested objects alike.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("canonical round-trip: %w", err)
	}
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("canonical re-marshal: %w", err)
	}
	return out, nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ReceiptHash computes the canonical digest of a receipt. The
// receipt_sha256 field is forced to null before hashing so the digest
// is stable regardless of whether the receipt was already sealed.
func ReceiptHash(r Receipt) (string, error) {
	r.ReceiptSHA256 = nil
	canonical, err := CanonicalJSON(r)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

// WithHash returns a copy of the receipt with receipt_sha256 set to
// its canonical digest. This is the terminal mutation: any change to
// the receipt after this point invalidates the hash.
func WithHash(r Receipt) (Receipt, error) {
	digest, err := ReceiptHash(r)
	if err != nil {
		return Receipt{}, err
	}
	r.ReceiptSHA256 = &digest
	return r, nil
}

// VerifyHash recomputes the receipt digest and checks it against the
// embedded receipt_sha256. An unsealed receipt never verifies.
func VerifyHash(r Receipt) (bool, error) {
	if r.ReceiptSHA256 == nil {
		return false, nil
	}
	digest, err := ReceiptHash(r)
	if err != nil {
		return false, err
	}
	return digest == *r.ReceiptSHA256, nil
}
