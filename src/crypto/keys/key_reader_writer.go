package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// KeyReaderWriter loads and stores a node key.
type KeyReaderWriter interface {
	ReadKey() (*ecdsa.PrivateKey, error)
	WriteKey(*ecdsa.PrivateKey) error
}

// userOnly covers the group and other permission bits.
const userOnly os.FileMode = 0077

// SimpleKeyfile keeps the hex encoded scalar of a key, unencrypted, in a file
// only its owner may read.
type SimpleKeyfile struct {
	l    sync.Mutex
	path string
}

// NewSimpleKeyfile ...
func NewSimpleKeyfile(path string) *SimpleKeyfile {
	return &SimpleKeyfile{path: path}
}

// Path is the location of the key file.
func (k *SimpleKeyfile) Path() string {
	return k.path
}

// Exists reports whether something already lives at Path.
func (k *SimpleKeyfile) Exists() bool {
	_, err := os.Stat(k.path)
	return err == nil
}

func (k *SimpleKeyfile) checkPermissions() error {
	info, err := os.Stat(k.path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&userOnly != 0 {
		return fmt.Errorf("%s is accessible to group or others (mode %o)", k.path, perm)
	}
	return nil
}

// ReadKey implements KeyReaderWriter. Files readable by anyone but their
// owner are refused.
func (k *SimpleKeyfile) ReadKey() (*ecdsa.PrivateKey, error) {
	k.l.Lock()
	defer k.l.Unlock()

	if err := k.checkPermissions(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(k.path)
	if err != nil {
		return nil, err
	}

	d, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k.path, err)
	}

	return ParsePrivateKey(d)
}

// WriteKey implements KeyReaderWriter. Missing parent directories are
// created.
func (k *SimpleKeyfile) WriteKey(key *ecdsa.PrivateKey) error {
	k.l.Lock()
	defer k.l.Unlock()

	if err := os.MkdirAll(filepath.Dir(k.path), 0700); err != nil {
		return err
	}

	return os.WriteFile(k.path, []byte(PrivateKeyHex(key)), 0600)
}
