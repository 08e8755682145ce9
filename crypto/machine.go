package crypto

import (
	"github.com/charmbracelet/log"

	"github.com/mau-device-identity/olmcrypto/crypto/olm"
	"github.com/mau-device-identity/olmcrypto/id"
)

// Machine ties an Account to its Store and composes the operations this
// module exposes to a client: decryption of inbound to-device events
// (spec.md §4.4) and planning of device/one-time/fallback key uploads
// (spec.md §4.1/§4.5). It has no knowledge of HTTP dispatch, device-list
// tracking or Megolm group sessions (spec.md §1, Out of scope).
type Machine struct {
	account    *Account
	store      Store
	log        *log.Logger
	pickleMode olm.PickleMode
}

// NewMachine composes an Account and a Store into a Machine. A nil logger
// falls back to charmbracelet/log's default, matching the logging
// convention used throughout joinself-self-go-sdk's examples. pickleMode is
// used for every account/session pickle this Machine produces or reads.
func NewMachine(account *Account, store Store, logger *log.Logger, pickleMode olm.PickleMode) *Machine {
	if logger == nil {
		logger = log.Default()
	}
	return &Machine{
		account:    account,
		store:      store,
		log:        logger.With("user_id", account.UserID(), "device_id", account.DeviceID()),
		pickleMode: pickleMode,
	}
}

// Account returns the machine's underlying identity account.
func (m *Machine) Account() *Account { return m.account }

// Store returns the machine's session/account store.
func (m *Machine) Store() Store { return m.store }

// saveAccount persists the current account snapshot, logging failures
// (spec.md §5: account mutex must not be held across this call).
func (m *Machine) saveAccount() error {
	pickled, err := m.account.ToPickle(m.pickleMode)
	if err != nil {
		m.log.Error("failed to pickle account", "error", err)
		return err
	}
	if err := m.store.SaveChanges(Changes{Account: &pickled}); err != nil {
		m.log.Error("failed to persist account", "error", err)
		return err
	}
	return nil
}

func (m *Machine) markDeviceForUnwedging(user id.UserID, senderKey id.SenderKey) {
	m.log.Warn("marking device for unwedging", "sender", user, "sender_key", senderKey)
}
