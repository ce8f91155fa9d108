// Package vault implements the encrypted credential store from spec.md
// §4.B: put/get/delete/list, AEAD-at-rest with a memory-hard KDF, and an
// audit record on every read. It generalizes the teacher's
// infrastructure/secrets.Manager (AES-GCM envelope, audit-on-read call)
// to the spec's mandated Argon2id KDF and ChaCha20-Poly1305 AEAD.
package vault

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
)

// AuditSink receives one record per Vault read, matching spec.md's "An
// access record is emitted to the Audit Log on every read". The
// Orchestrator wires this to the real audit.Log; tests can use a stub.
type AuditSink interface {
	RecordAccess(ctx context.Context, name string, success bool, err error)
}

type noopSink struct{}

func (noopSink) RecordAccess(context.Context, string, bool, error) {}

// KDFParams controls Argon2id. Defaults match the Argon2 RFC 9106
// "moderate" profile, scaled down slightly for interactive CLI use.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFParams returns a profile suitable for a CLI/service process.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}
}

// entry is the in-memory representation of one stored secret: ciphertext
// plus the random salt used to derive its key and the nonce used to seal
// it. Per-entry salts mean a leaked ciphertext cannot be used to recover
// another entry's key even if the passphrase is later compromised.
type entry struct {
	salt       []byte
	nonce      []byte
	ciphertext []byte
}

// Vault is a concurrency-safe, in-process encrypted credential store.
// Cryptographic and key-derivation operations are serialized by mu per
// spec.md §5's "Vault serializes key-derivation and cryptographic
// operations."
type Vault struct {
	mu         sync.Mutex
	passphrase []byte
	params     KDFParams
	entries    map[string]entry
	audit      AuditSink
}

// New builds a Vault. passphrase is copied; the caller's slice may be
// zeroed immediately after this call returns.
func New(passphrase []byte, params KDFParams, audit AuditSink) *Vault {
	if audit == nil {
		audit = noopSink{}
	}
	cp := make([]byte, len(passphrase))
	copy(cp, passphrase)
	return &Vault{
		passphrase: cp,
		params:     params,
		entries:    make(map[string]entry),
		audit:      audit,
	}
}

// Put encrypts value under a fresh random salt/nonce and stores it as
// name, replacing any prior value for the same name.
func (v *Vault) Put(ctx context.Context, name string, value []byte) error {
	if name == "" {
		return coreerrors.New(coreerrors.KindInvalidParams, "vault", "Put", "name must not be empty")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.passphrase) == 0 {
		return coreerrors.New(coreerrors.KindInvariantViolated, "vault", "Put", "MASTER_KEY_UNAVAILABLE")
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return coreerrors.Wrap(coreerrors.KindInvariantViolated, "vault", "Put", err)
	}
	key := v.deriveKey(salt)
	defer zero(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindInvariantViolated, "vault", "Put", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return coreerrors.Wrap(coreerrors.KindInvariantViolated, "vault", "Put", err)
	}

	ciphertext := aead.Seal(nil, nonce, value, nil)
	v.entries[name] = entry{salt: salt, nonce: nonce, ciphertext: ciphertext}
	return nil
}

// Get decrypts and returns the value stored as name. Every call, success
// or failure, is reported to the configured AuditSink. The returned slice
// is the only copy held outside the vault's encrypted entry; callers
// should Zero it once done (see Zero).
func (v *Vault) Get(ctx context.Context, name string) (value []byte, err error) {
	defer func() { v.audit.RecordAccess(ctx, name, err == nil, err) }()

	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.entries[name]
	if !ok {
		err = coreerrors.New(coreerrors.KindNotFound, "vault", "Get", "NOT_FOUND: %s", name)
		return nil, err
	}
	if len(v.passphrase) == 0 {
		err = coreerrors.New(coreerrors.KindInvariantViolated, "vault", "Get", "MASTER_KEY_UNAVAILABLE")
		return nil, err
	}

	key := v.deriveKey(e.salt)
	defer zero(key)

	aead, aeadErr := chacha20poly1305.New(key)
	if aeadErr != nil {
		err = coreerrors.Wrap(coreerrors.KindInvariantViolated, "vault", "Get", aeadErr)
		return nil, err
	}

	plain, openErr := aead.Open(nil, e.nonce, e.ciphertext, nil)
	if openErr != nil {
		err = coreerrors.Wrap(coreerrors.KindDecryptFailure, "vault", "Get", openErr)
		return nil, err
	}
	return plain, nil
}

// Delete removes name. Idempotent: deleting an unknown name is not an
// error.
func (v *Vault) Delete(ctx context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, name)
	return nil
}

// List returns every stored name, in no particular order.
func (v *Vault) List(ctx context.Context) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	names := make([]string, 0, len(v.entries))
	for name := range v.entries {
		names = append(names, name)
	}
	return names
}

// Rotate re-derives and re-seals every entry under a new passphrase,
// serialized the same as Put/Get. Used for periodic master-key rotation
// without a store migration.
func (v *Vault) Rotate(ctx context.Context, newPassphrase []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	decrypted := make(map[string][]byte, len(v.entries))
	for name, e := range v.entries {
		key := v.deriveKey(e.salt)
		aead, err := chacha20poly1305.New(key)
		zero(key)
		if err != nil {
			return coreerrors.Wrap(coreerrors.KindInvariantViolated, "vault", "Rotate", err)
		}
		plain, err := aead.Open(nil, e.nonce, e.ciphertext, nil)
		if err != nil {
			return coreerrors.Wrap(coreerrors.KindDecryptFailure, "vault", "Rotate", err)
		}
		decrypted[name] = plain
	}

	zero(v.passphrase)
	v.passphrase = append([]byte(nil), newPassphrase...)

	for name, plain := range decrypted {
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return coreerrors.Wrap(coreerrors.KindInvariantViolated, "vault", "Rotate", err)
		}
		key := v.deriveKey(salt)
		aead, err := chacha20poly1305.New(key)
		zero(key)
		if err != nil {
			return coreerrors.Wrap(coreerrors.KindInvariantViolated, "vault", "Rotate", err)
		}
		nonce := make([]byte, chacha20poly1305.NonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return coreerrors.Wrap(coreerrors.KindInvariantViolated, "vault", "Rotate", err)
		}
		v.entries[name] = entry{salt: salt, nonce: nonce, ciphertext: aead.Seal(nil, nonce, plain, nil)}
		zero(plain)
	}
	return nil
}

func (v *Vault) deriveKey(salt []byte) []byte {
	return argon2.IDKey(v.passphrase, salt, v.params.Time, v.params.Memory, v.params.Threads, chacha20poly1305.KeySize)
}

// Zero overwrites b in place; callers should invoke this on any plaintext
// slice returned from Get as soon as it's no longer needed, per spec.md's
// "decrypted values held in memory only during the smallest scope
// required, zeroed on release where the language permits."
func Zero(b []byte) { zero(b) }

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeEquals compares two secrets without leaking timing
// information, for callers that need to check a presented credential
// against a vault-stored one.
func ConstantTimeEquals(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
