package crypto

import (
	"github.com/pkg/errors"

	"github.com/mau-device-identity/olmcrypto/id"
)

// SyncKeyCounts is what a sync response delivers about server-side key
// state (spec.md §6). FallbackAlgorithms is nil when the server does not
// support fallback keys at all, non-nil-empty when it supports them but
// none is currently unused, and non-empty when at least one algorithm
// already has an unused fallback key.
type SyncKeyCounts struct {
	OneTimeKeyCounts   map[id.Algorithm]int
	FallbackAlgorithms []id.Algorithm
}

// UpdateFromSync applies spec.md §4.1 rules 1-2: refresh the uploaded
// one-time key counter, and generate a fallback key if the server supports
// fallback but currently has none pending for signed_curve25519.
func (m *Machine) UpdateFromSync(counts SyncKeyCounts) error {
	if n, ok := counts.OneTimeKeyCounts[signedCurve25519Algorithm]; ok {
		m.account.SetUploadedSignedKeyCount(n)
	}
	if counts.FallbackAlgorithms != nil && !containsAlgorithm(counts.FallbackAlgorithms, signedCurve25519Algorithm) {
		if err := m.account.GenerateFallbackKey(); err != nil {
			return errors.Wrap(ErrOlmPrimitiveError, err.Error())
		}
	}
	return nil
}

// signedCurve25519Algorithm is the algorithm name used as a map/list key for
// one-time and fallback key counts; it is NOT the same string as the Olm
// event algorithm id.AlgorithmOlmV1 used on the wire, so it gets its own
// constant per spec.md §6 ("device_one_time_key_count: {signed_curve25519: N}").
const signedCurve25519Algorithm id.Algorithm = "signed_curve25519"

func containsAlgorithm(list []id.Algorithm, want id.Algorithm) bool {
	for _, a := range list {
		if a == want {
			return true
		}
	}
	return false
}

// ShouldUploadKeys implements spec.md §4.1 rule 3.
func (m *Machine) ShouldUploadKeys() (bool, error) {
	if !m.account.Shared() {
		return true, nil
	}
	pending, err := m.account.inner.UnpublishedFallbackKey()
	if err != nil {
		return false, errors.Wrap(ErrOlmPrimitiveError, err.Error())
	}
	if pending != nil {
		return true, nil
	}
	if m.account.UploadedSignedKeyCount() <= m.account.MaxOneTimeKeys()/2 {
		return true, nil
	}
	return false, nil
}

// UploadPlan is the triple (device_keys?, one_time_keys, fallback_keys)
// of spec.md §4.1 rule 4.
type UploadPlan struct {
	DeviceKeys  *DeviceKeys
	OneTimeKeys OneTimeKeyUpload
	FallbackKeys OneTimeKeyUpload
}

// KeysForUpload computes the next upload plan. device_keys is included only
// while shared is false. One-time keys are generated to bring the
// server-visible count to max/2, clamped to capacity; if no deficit exists
// the map is empty (spec.md §8 properties #2-#4). Fallback keys are
// included iff one is currently pending.
func (m *Machine) KeysForUpload() (UploadPlan, error) {
	var plan UploadPlan

	if !m.account.Shared() {
		dk, err := m.account.deviceKeys()
		if err != nil {
			return plan, errors.Wrap(err, "failed to build device keys for upload")
		}
		plan.DeviceKeys = &dk
	}

	deficit := m.account.MaxOneTimeKeys()/2 - m.account.UploadedSignedKeyCount()
	if deficit > 0 {
		capacity := m.account.MaxOneTimeKeys()
		if deficit > capacity {
			deficit = capacity
		}
		existing, err := m.account.inner.OneTimeKeys()
		if err != nil {
			return plan, errors.Wrap(ErrOlmPrimitiveError, err.Error())
		}
		// Idempotence (spec.md §8 property #2): only generate new keys if
		// the account doesn't already hold an unpublished batch to offer.
		if len(existing) < deficit {
			if err := m.account.GenerateOneTimeKeys(deficit - len(existing)); err != nil {
				return plan, errors.Wrap(ErrOlmPrimitiveError, err.Error())
			}
			existing, err = m.account.inner.OneTimeKeys()
			if err != nil {
				return plan, errors.Wrap(ErrOlmPrimitiveError, err.Error())
			}
		}
		plan.OneTimeKeys = make(OneTimeKeyUpload, len(existing))
		for _, otk := range existing {
			signed, err := m.account.signKey(otk.Key, false)
			if err != nil {
				return plan, errors.Wrap(err, "failed to sign one-time key")
			}
			plan.OneTimeKeys[id.SignedCurve25519KeyID(otk.KeyID)] = signed
		}
	}

	pending, err := m.account.inner.UnpublishedFallbackKey()
	if err != nil {
		return plan, errors.Wrap(ErrOlmPrimitiveError, err.Error())
	}
	if pending != nil {
		signed, err := m.account.signKey(pending.Key, true)
		if err != nil {
			return plan, errors.Wrap(err, "failed to sign fallback key")
		}
		plan.FallbackKeys = OneTimeKeyUpload{id.SignedCurve25519KeyID(pending.KeyID): signed}
	}

	return plan, nil
}

// UploadResult is what the (out-of-scope) HTTP layer reports back after a
// successful upload, per spec.md §4.1 rule 5.
type UploadResult struct {
	OneTimeKeyCounts map[id.Algorithm]int
}

// OnUploadSuccess applies spec.md §4.1 rule 5: mark pending keys published,
// flip shared to true, and refresh the uploaded-key counter from the
// server's response.
func (m *Machine) OnUploadSuccess(result UploadResult) error {
	m.account.MarkKeysAsPublished()
	m.account.SetShared(true)
	if n, ok := result.OneTimeKeyCounts[signedCurve25519Algorithm]; ok {
		m.account.SetUploadedSignedKeyCount(n)
	}
	return m.saveAccount()
}
