package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"slotmarket/cmd/internal/secret"
	"slotmarket/config"
	"slotmarket/crypto"
	"slotmarket/gateway/middleware"
)

const envKeystorePass = "SLOTMARKET_KEYSTORE_PASS"

type secretGetter interface {
	Get() (string, error)
}

var newSecretSource = func(envVar, label string) secretGetter {
	return secret.NewSource(envVar, label)
}

// runToken signs a caller JWT with the daemon's shared secret. The subject is
// either --address or the address of --keystore.
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	address := fs.String("address", "", "bech32 caller address")
	keystorePath := fs.String("keystore", "", "derive the caller from this keystore")
	secretEnv := fs.String("secret-env", config.DefaultJWTSecretEnv, "environment variable holding the signing secret")
	issuer := fs.String("issuer", "slotmarket", "token issuer")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var caller [20]byte
	switch {
	case strings.TrimSpace(*address) != "" && strings.TrimSpace(*keystorePath) != "":
		fmt.Fprintln(stderr, "Error: --address and --keystore are mutually exclusive")
		return 1
	case strings.TrimSpace(*address) != "":
		addr, err := crypto.ParseAddress(*address)
		if err != nil {
			fmt.Fprintf(stderr, "Error: invalid --address: %v\n", err)
			return 1
		}
		caller = addr
	case strings.TrimSpace(*keystorePath) != "":
		pass, err := newSecretSource(envKeystorePass, "keystore passphrase").Get()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		key, err := crypto.LoadFromKeystore(*keystorePath, pass)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		caller = key.Address()
	default:
		fmt.Fprintln(stderr, "Error: --address or --keystore is required")
		return 1
	}

	signingSecret, err := newSecretSource(*secretEnv, "JWT signing secret").Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	token, err := middleware.IssueToken(signingSecret, *issuer, caller, *ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

// runKeygen writes a new encrypted keystore and prints its address.
func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "keystore file to create")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		return 1
	}
	pass, err := newSecretSource(envKeystorePass, "keystore passphrase").Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, crypto.FormatAddress(key.Address()))
	return 0
}
