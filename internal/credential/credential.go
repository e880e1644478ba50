// Package credential derives the apiKeyHash that partitions the review queue
// and resolves configured credentials by that hash. Raw keys never leave this
// package except through Keyring.Lookup.
package credential

import (
	"encoding/hex"
	"errors"
	"sort"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// ErrUnknownHash is returned when no configured credential matches a hash.
var ErrUnknownHash = errors.New("no credential configured for api key hash")

// Hash returns the hex encoded BLAKE2b-256 digest of an API key.
func Hash(apiKey string) string {
	sum := blake2b.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// Keyring maps apiKeyHash values to the raw credential.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewKeyring builds a keyring from raw keys. Empty keys are ignored.
func NewKeyring(apiKeys ...string) *Keyring {
	k := &Keyring{keys: make(map[string]string, len(apiKeys))}
	for _, key := range apiKeys {
		k.Add(key)
	}
	return k
}

// Add registers a key and returns its hash.
func (k *Keyring) Add(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	h := Hash(apiKey)
	k.mu.Lock()
	k.keys[h] = apiKey
	k.mu.Unlock()
	return h
}

// Lookup returns the raw key for hash.
func (k *Keyring) Lookup(hash string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[hash]
	if !ok {
		return "", ErrUnknownHash
	}
	return key, nil
}

// Hashes lists every configured hash in sorted order.
func (k *Keyring) Hashes() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.keys))
	for h := range k.keys {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
