// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/btcsuite/btcmultisig/multisig"
	"github.com/btcsuite/btcmultisig/store"
	"golang.org/x/term"
)

const (
	defaultLogLevel       = "info"
	defaultLogFilename    = "msigctl.log"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultDBFilename     = "msigctl.db"

	dbBackendSQLite   = "sqlite"
	dbBackendPostgres = "postgres"
)

var defaultAppDir = btcutil.AppDataDir("msigctl", false)

// config holds the global options shared by every command.
type config struct {
	Network string `long:"network" short:"n" description:"Bitcoin network" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"signet" default:"mainnet"`

	LogDir         string `long:"logdir" description:"Directory to log output"`
	DebugLevel     string `long:"debuglevel" short:"d" description:"Logging level {trace, debug, info, warn, error, critical, off}"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	DB    string `long:"db" description:"Persist derived addresses, xpubs and descriptors to this backend" choice:"sqlite" choice:"postgres"`
	DBDSN string `long:"db.dsn" description:"Database file for sqlite or connection string for postgres"`

	WalletID string `long:"walletid" description:"Wallet id to store records under; defaults to the key fingerprint"`

	MnemonicFile string `long:"mnemonic-file" description:"File holding the BIP39 mnemonic; prompted for when unset"`
	Passphrase   bool   `long:"passphrase" description:"Prompt for a BIP39 passphrase"`

	net *chaincfg.Params
}

// defaultConfig returns a config with every default filled in.
func defaultConfig() *config {
	return &config{
		LogDir:         filepath.Join(defaultAppDir, "logs"),
		DebugLevel:     defaultLogLevel,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
	}
}

// networkParams maps a network name to its parameters.
func networkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet":
		return &chaincfg.MainNetParams, nil

	case "testnet":
		return &chaincfg.TestNet3Params, nil

	case "regtest":
		return &chaincfg.RegressionNetParams, nil

	case "signet":
		return &chaincfg.SigNetParams, nil

	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

// setup validates the options and starts logging. It runs once before the
// selected command.
func (c *config) setup() error {
	net, err := networkParams(c.Network)
	if err != nil {
		return err
	}
	c.net = net

	if err := setLogLevels(c.DebugLevel); err != nil {
		return err
	}

	logFile := filepath.Join(c.LogDir, net.Name, defaultLogFilename)

	return initLogRotator(logFile, c.MaxLogFileSize, c.MaxLogFiles)
}

// readSecret prompts on the terminal without echo.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// The variable syscall.Stdin is of a different type in the Windows
	// API, hence the explicit cast.
	secret, err := term.ReadPassword(int(syscall.Stdin)) // nolint:unconvert
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}

	return string(secret), nil
}

// loadMnemonic returns the mnemonic from the configured file or from a
// prompt.
func (c *config) loadMnemonic() (string, error) {
	if c.MnemonicFile == "" {
		return readSecret("Mnemonic: ")
	}

	f, err := os.Open(c.MnemonicFile)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	return strings.Join(words, " "), nil
}

// loadEngine builds the key engine from the seed material.
func (c *config) loadEngine() (*keyring.Engine, error) {
	mnemonic, err := c.loadMnemonic()
	if err != nil {
		return nil, fmt.Errorf("read mnemonic: %w", err)
	}

	var passphrase string
	if c.Passphrase {
		passphrase, err = readSecret("Passphrase: ")
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
	}

	engine, err := keyring.NewFromMnemonic(mnemonic, passphrase, c.net)
	if err != nil {
		return nil, err
	}

	log.Infof("Loaded key %s on %s", engine.FingerprintHex(), c.net.Name)

	return engine, nil
}

// loadWallet imports a multisig wallet file written by "multisig create".
func (c *config) loadWallet(path string) (*multisig.Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	w, err := multisig.Import(data, c.net)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}

	return w, nil
}

// walletID returns the configured wallet id or fallback.
func (c *config) walletID(fallback string) string {
	if c.WalletID != "" {
		return c.WalletID
	}

	return fallback
}

// openStore opens the configured store. It returns nil without --db.
func (c *config) openStore() (store.Store, error) {
	switch c.DB {
	case "":
		return nil, nil

	case dbBackendSQLite:
		path := c.DBDSN
		if path == "" {
			path = filepath.Join(defaultAppDir, c.net.Name,
				defaultDBFilename)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}

		return store.OpenSQLite(path)

	case dbBackendPostgres:
		if c.DBDSN == "" {
			return nil, fmt.Errorf("--db.dsn is required for postgres")
		}

		return store.OpenPostgres(c.DBDSN)

	default:
		return nil, fmt.Errorf("unknown db backend %q", c.DB)
	}
}

// withStore runs fn on the configured store and closes it afterwards. fn is
// skipped without --db.
func (c *config) withStore(fn func(store.Store) error) error {
	s, err := c.openStore()
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	defer s.Close()

	return fn(s)
}
