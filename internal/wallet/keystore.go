package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Klingon-tech/klingnet-tray/internal/log"
)

// ErrWalletNotFound is returned for an unknown wallet name.
var ErrWalletNotFound = errors.New("wallet not found")

const keystoreVersion = 1

// keystoreFile is the on-disk JSON format for an encrypted wallet.
type keystoreFile struct {
	Version    int               `json:"version"`
	CreatedAt  time.Time         `json:"created_at"`
	SealedSeed []byte            `json:"sealed_seed"`
	Indices    map[string]uint32 `json:"indices"` // kind name -> current index
}

// Keystore manages encrypted seeds and tray indices on disk. It is the
// CLI's secure-storage provider.
type Keystore struct {
	path string
}

// NewKeystore creates a keystore that reads/writes to the given directory.
// The directory is created if it doesn't exist.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

// ValidateName rejects names that are empty or would escape the keystore
// directory.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("invalid wallet name %q", name)
	}
	return nil
}

func (ks *Keystore) walletPath(name string) string {
	return filepath.Join(ks.path, name+".wallet")
}

// Create seals seed and writes a new wallet file. All tray indices start at 0.
func (ks *Keystore) Create(name string, seed, password []byte, params KDFParams) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	path := ks.walletPath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("wallet %q already exists", name)
	}
	sealed, err := SealSeed(seed, password, name, params)
	if err != nil {
		return fmt.Errorf("seal seed: %w", err)
	}
	kf := keystoreFile{
		Version:    keystoreVersion,
		CreatedAt:  time.Now().UTC(),
		SealedSeed: sealed,
		Indices:    map[string]uint32{},
	}
	if err := ks.writeFile(path, &kf); err != nil {
		return err
	}
	log.Wallet.Info().Str("wallet", name).Msg("Wallet created")
	return nil
}

// Load opens a wallet and returns its seed.
func (ks *Keystore) Load(name string, password []byte) ([]byte, error) {
	kf, err := ks.readFile(name)
	if err != nil {
		return nil, err
	}
	seed, err := OpenSeed(kf.SealedSeed, password, name)
	if err != nil {
		return nil, fmt.Errorf("open wallet %q: %w", name, err)
	}
	return seed, nil
}

// LoadRootKey opens a wallet and builds its root key.
func (ks *Keystore) LoadRootKey(name string, password []byte) (*RootKey, error) {
	seed, err := ks.Load(name, password)
	if err != nil {
		return nil, err
	}
	defer clear(seed)
	return NewRootKey(seed)
}

// Indices returns the stored index of every rotating kind. Kinds never
// rotated are absent and default to 0.
func (ks *Keystore) Indices(name string) (map[AccountKind]uint32, error) {
	kf, err := ks.readFile(name)
	if err != nil {
		return nil, err
	}
	out := make(map[AccountKind]uint32, len(kf.Indices))
	for s, idx := range kf.Indices {
		kind, err := ParseAccountKind(s)
		if err != nil {
			return nil, fmt.Errorf("wallet %q: %w", name, err)
		}
		out[kind] = idx
	}
	return out, nil
}

// SetIndex persists the current index of kind. Indices only move forward,
// and only rotating kinds have one.
func (ks *Keystore) SetIndex(name string, kind AccountKind, index uint32) error {
	if !kind.Rotates() {
		return fmt.Errorf("%s accounts do not rotate", kind)
	}
	kf, err := ks.readFile(name)
	if err != nil {
		return err
	}
	if cur := kf.Indices[kind.String()]; index < cur {
		return fmt.Errorf("%s index %d is behind stored index %d", kind, index, cur)
	}
	if kf.Indices == nil {
		kf.Indices = map[string]uint32{}
	}
	kf.Indices[kind.String()] = index
	if err := ks.writeFile(ks.walletPath(name), kf); err != nil {
		return err
	}
	log.Wallet.Debug().Str("wallet", name).Stringer("kind", kind).Uint32("index", index).Msg("Stored account index")
	return nil
}

// List returns the names of all wallets in the keystore, sorted.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".wallet" {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a wallet file.
func (ks *Keystore) Delete(name string) error {
	path := ks.walletPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %q", ErrWalletNotFound, name)
	}
	return os.Remove(path)
}

func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	return nil
}

func (ks *Keystore) readFile(name string) (*keystoreFile, error) {
	data, err := os.ReadFile(ks.walletPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrWalletNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse wallet: %w", err)
	}
	if kf.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported wallet version: %d", kf.Version)
	}
	return &kf, nil
}
