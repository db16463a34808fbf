package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/klingnet-tray/config"
	"github.com/Klingon-tech/klingnet-tray/internal/organizer"
	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
)

func cmdWallet(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-tray wallet <create|import|list>")
	}

	switch args[0] {
	case "create":
		cmdWalletCreate(cfg)
	case "import":
		cmdWalletImport(cfg, args[1:])
	case "list":
		cmdWalletList(cfg)
	default:
		fatal("Unknown wallet command: %s\nUsage: klingnet-tray wallet <create|import|list>", args[0])
	}
}

func openKeystore(cfg *config.Config) *wallet.Keystore {
	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		fatal("open keystore: %v", err)
	}
	return ks
}

func cmdWalletCreate(cfg *config.Config) {
	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		fatal("generate mnemonic: %v", err)
	}

	fmt.Println("Recovery phrase (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)

	storeWallet(cfg, mnemonic)
	fmt.Printf("\nWallet created: %s\n", cfg.Wallet.Name)
}

func cmdWalletImport(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("wallet import", flag.ExitOnError)
	mnemonic := fs.String("mnemonic", "", "BIP-39 recovery phrase")
	fs.Parse(args)

	phrase := strings.Join(strings.Fields(*mnemonic), " ")
	if phrase == "" {
		fatal("Usage: klingnet-tray wallet import --mnemonic \"word1 word2 ...\"")
	}
	if !wallet.ValidateMnemonic(phrase) {
		fatal("invalid recovery phrase")
	}

	storeWallet(cfg, phrase)
	fmt.Printf("Wallet imported: %s\n", cfg.Wallet.Name)
}

func storeWallet(cfg *config.Config, mnemonic string) {
	password := readNewPassword()

	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}
	defer func() {
		for i := range seed {
			seed[i] = 0
		}
	}()

	root, err := wallet.NewRootKey(seed)
	if err != nil {
		fatal("derive root key: %v", err)
	}
	owner, err := root.Owner()
	if err != nil {
		fatal("derive owner: %v", err)
	}

	ks := openKeystore(cfg)
	if err := ks.Create(cfg.Wallet.Name, seed, password, wallet.DefaultKDFParams()); err != nil {
		fatal("create wallet: %v", err)
	}
	fmt.Printf("Owner: %s\n", owner.PublicKey())
}

func cmdWalletList(cfg *config.Config) {
	names, err := openKeystore(cfg).List()
	if err != nil {
		fatal("list wallets: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("No wallets found.")
		return
	}
	for _, name := range names {
		marker := " "
		if name == cfg.Wallet.Name {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, name)
	}
}

// unlock prompts for the wallet password and returns its root key.
func unlock(cfg *config.Config, ks *wallet.Keystore) *wallet.RootKey {
	password, err := readPassword(fmt.Sprintf("Password for %s: ", cfg.Wallet.Name))
	if err != nil {
		fatal("read password: %v", err)
	}
	root, err := ks.LoadRootKey(cfg.Wallet.Name, password)
	if err != nil {
		fatal("unlock wallet: %v", err)
	}
	return root
}

func cmdAccounts(cfg *config.Config) {
	ks := openKeystore(cfg)
	root := unlock(cfg, ks)
	indices, err := ks.Indices(cfg.Wallet.Name)
	if err != nil {
		fatal("load indices: %v", err)
	}
	tray, err := organizer.DeriveTray(root, indices)
	if err != nil {
		fatal("derive tray: %v", err)
	}

	fmt.Fprintf(os.Stdout, "Tray %s\n", tray.Fingerprint().Short())
	fmt.Printf("  %-14s %5s  %-44s  %s\n", "KIND", "INDEX", "AUTHORITY", "VAULT")
	for _, a := range tray.Accounts() {
		fmt.Printf("  %-14s %5d  %-44s  %s\n", a.Kind, a.Index, a.Owner(), a.Vault)
	}
}
