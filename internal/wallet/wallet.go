// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrUnknownWallet is returned when no key is loaded for an address.
var ErrUnknownWallet = errors.New("unknown wallet")

// Wallet представляет кошелёк Solana.
type Wallet struct {
	Name       string
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey
}

// NewWallet создаёт новый кошелёк из base58-encoded приватного ключа.
func NewWallet(name, privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(strings.TrimSpace(privateKeyBase58))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	privateKey := solana.PrivateKey(privateKeyBytes)
	return &Wallet{
		Name:       name,
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
	}, nil
}

// Address is the base58 public key; wallets are keyed by it everywhere else.
func (w *Wallet) Address() string { return w.PublicKey.String() }

// KeyRing holds the signing keys of all managed wallets, indexed by address.
type KeyRing struct {
	wallets map[string]*Wallet
}

// NewKeyRing builds a key ring from already decoded wallets.
func NewKeyRing(wallets ...*Wallet) *KeyRing {
	kr := &KeyRing{wallets: make(map[string]*Wallet, len(wallets))}
	for _, w := range wallets {
		kr.wallets[w.Address()] = w
	}
	return kr
}

// Load читает кошельки из CSV ([Name, PrivateKeyBase58]) или YAML, по расширению файла.
// Невалидные строки пропускаются с предупреждением.
func Load(path string, logger *zap.Logger) (*KeyRing, error) {
	cleanPath := filepath.Clean(path)
	var (
		entries []entry
		err     error
	)
	switch strings.ToLower(filepath.Ext(cleanPath)) {
	case ".yaml", ".yml":
		entries, err = readYAML(cleanPath)
	default:
		entries, err = readCSV(cleanPath)
	}
	if err != nil {
		return nil, err
	}

	var wallets []*Wallet
	for _, e := range entries {
		w, err := NewWallet(e.name, e.key)
		if err != nil {
			logger.Warn("Skipping invalid wallet", zap.String("name", e.name), zap.Error(err))
			continue
		}
		wallets = append(wallets, w)
	}
	if len(wallets) == 0 {
		return nil, fmt.Errorf("no valid wallets loaded from %s", cleanPath)
	}
	kr := NewKeyRing(wallets...)
	logger.Info("Wallets loaded", zap.Int("count", len(wallets)), zap.String("path", cleanPath))
	return kr, nil
}

type entry struct {
	name string
	key  string
}

func readCSV(path string) ([]entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV file is empty or missing data")
	}
	out := make([]entry, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) != 2 {
			continue
		}
		out = append(out, entry{name: record[0], key: record[1]})
	}
	return out, nil
}

// fileConfig represents the structure of wallets YAML file
type fileConfig struct {
	Wallets []struct {
		Name       string `yaml:"name"`
		PrivateKey string `yaml:"private_key"`
	} `yaml:"wallets"`
}

func readYAML(path string) ([]entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	out := make([]entry, 0, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		if w.Name == "" || w.PrivateKey == "" {
			continue
		}
		out = append(out, entry{name: w.Name, key: w.PrivateKey})
	}
	return out, nil
}

// KeyFor returns the signing key for a wallet address.
func (k *KeyRing) KeyFor(address string) (solana.PrivateKey, error) {
	w, ok := k.wallets[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, address)
	}
	return w.PrivateKey, nil
}

// Get returns the wallet for address.
func (k *KeyRing) Get(address string) (*Wallet, bool) {
	w, ok := k.wallets[address]
	return w, ok
}

// Addresses returns all wallet addresses in stable order.
func (k *KeyRing) Addresses() []string {
	out := make([]string, 0, len(k.wallets))
	for addr := range k.wallets {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of loaded wallets.
func (k *KeyRing) Len() int { return len(k.wallets) }
