// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// msigctl derives keys and addresses, manages multisig wallet files and
// walks PSBTs through creation, signing, combination and finalization.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

// registrar is a command that adds itself to the parser.
type registrar interface {
	Register(parser *flags.Parser) error
}

// newParser builds the command tree over cfg.
func newParser(cfg *config) (*flags.Parser, error) {
	parser := flags.NewParser(cfg, flags.Default)

	commands := []registrar{
		&deriveCommand{cfg: cfg},
		&xpubCommand{cfg: cfg},
		&msXpubCommand{cfg: cfg},
		&descriptorCommand{cfg: cfg},
		&findCommand{cfg: cfg},
	}
	for _, c := range commands {
		if err := c.Register(parser); err != nil {
			return nil, err
		}
	}

	if err := registerMultisig(parser, cfg); err != nil {
		return nil, err
	}
	if err := registerPSBT(parser, cfg); err != nil {
		return nil, err
	}

	// Logging is set up from the parsed global options right before the
	// selected command runs.
	parser.CommandHandler = func(command flags.Commander,
		args []string) error {

		if command == nil {
			return nil
		}

		if err := cfg.setup(); err != nil {
			return err
		}
		defer closeLogRotator()

		err := command.Execute(args)
		if err != nil {
			log.Debugf("Command failed: %v", err)
		}

		return err
	}

	return parser, nil
}

func main() {
	parser, err := newParser(defaultConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if _, err := parser.Parse(); err != nil {
		// flags.Default already printed the error.
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
