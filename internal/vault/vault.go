// Package vault stores per-user Harvest credentials encrypted at rest in a
// single JSON document. Encryption is transparent to the workflow: it reads
// and writes plaintext credential pairs.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"
)

type record struct {
	APIToken  string    `json:"apiToken"`
	AccountID string    `json:"accountId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Vault is the credential store. File access is serialized by the callers
// being one process; each operation re-reads the document so an operator can
// edit it out of band.
type Vault struct {
	path   string
	cipher *Cipher
	logger *slog.Logger
}

// New creates a Vault backed by the JSON document at path.
func New(path string, cipher *Cipher, logger *slog.Logger) *Vault {
	return &Vault{path: path, cipher: cipher, logger: logger}
}

// Get returns the decrypted credential pair for userID. Absence is a normal
// outcome (ok=false), driving the "please configure" branch.
func (v *Vault) Get(userID string) (domain.Credentials, bool, error) {
	records, err := v.load()
	if err != nil {
		return domain.Credentials{}, false, err
	}
	rec, ok := records[userID]
	if !ok {
		return domain.Credentials{}, false, nil
	}

	token, err := v.open(rec.APIToken)
	if err != nil {
		return domain.Credentials{}, false, fmt.Errorf("decrypt api token for %s: %w", userID, err)
	}
	account, err := v.open(rec.AccountID)
	if err != nil {
		return domain.Credentials{}, false, fmt.Errorf("decrypt account id for %s: %w", userID, err)
	}

	return domain.Credentials{
		APIToken:  token,
		AccountID: account,
		UpdatedAt: rec.UpdatedAt,
	}, true, nil
}

// open decrypts an envelope, passing through values not yet migrated.
func (v *Vault) open(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	return v.cipher.Decrypt(value)
}

// Put encrypts both fields independently and persists them with a timestamp.
func (v *Vault) Put(userID, apiToken, accountID string) error {
	token, err := v.cipher.Encrypt(apiToken)
	if err != nil {
		return fmt.Errorf("encrypt api token: %w", err)
	}
	account, err := v.cipher.Encrypt(accountID)
	if err != nil {
		return fmt.Errorf("encrypt account id: %w", err)
	}

	records, err := v.load()
	if err != nil {
		return err
	}
	records[userID] = record{
		APIToken:  token,
		AccountID: account,
		UpdatedAt: time.Now().UTC(),
	}
	return v.save(records)
}

// MigrateLegacy re-encrypts any plaintext-stored entries in place. Detection
// is by the envelope format tag, so running it twice is a no-op. Returns the
// number of migrated entries.
func (v *Vault) MigrateLegacy() (int, error) {
	records, err := v.load()
	if err != nil {
		return 0, err
	}

	migrated := 0
	for userID, rec := range records {
		changed := false
		if rec.APIToken != "" && !IsEncrypted(rec.APIToken) {
			enc, err := v.cipher.Encrypt(rec.APIToken)
			if err != nil {
				return migrated, fmt.Errorf("migrate api token for %s: %w", userID, err)
			}
			rec.APIToken = enc
			changed = true
		}
		if rec.AccountID != "" && !IsEncrypted(rec.AccountID) {
			enc, err := v.cipher.Encrypt(rec.AccountID)
			if err != nil {
				return migrated, fmt.Errorf("migrate account id for %s: %w", userID, err)
			}
			rec.AccountID = enc
			changed = true
		}
		if changed {
			records[userID] = rec
			migrated++
		}
	}

	if migrated > 0 {
		if err := v.save(records); err != nil {
			return migrated, err
		}
		v.logger.Info("credential store migrated to encrypted format", "entries", migrated)
	}
	return migrated, nil
}

func (v *Vault) load() (map[string]record, error) {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential store: %w", err)
	}
	if len(data) == 0 {
		return map[string]record{}, nil
	}

	records := map[string]record{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse credential store %s: %w", v.path, err)
	}
	return records, nil
}

func (v *Vault) save(records map[string]record) error {
	if err := os.MkdirAll(filepath.Dir(v.path), 0o755); err != nil {
		return fmt.Errorf("create credential store directory: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential store: %w", err)
	}
	return os.WriteFile(v.path, data, 0o600)
}
