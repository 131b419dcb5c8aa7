package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// readSecret reads one line from the terminal without echo.
var readSecret = func(prompt string, w io.Writer) ([]byte, error) {
	fmt.Fprint(w, prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	return secret, err
}

// promptForPassphrase prompts the user for a passphrase twice and confirms they match
func promptForPassphrase(w io.Writer) (string, error) {
	passphrase, err := readSecret("Enter passphrase for encryption: ", w)
	if err != nil {
		return "", fmt.Errorf("error reading passphrase: %w", err)
	}

	if len(passphrase) == 0 {
		return "", fmt.Errorf("passphrase cannot be empty")
	}

	confirm, err := readSecret("Confirm passphrase: ", w)
	if err != nil {
		return "", fmt.Errorf("error reading passphrase confirmation: %w", err)
	}

	if !bytes.Equal(passphrase, confirm) {
		return "", fmt.Errorf("passphrases do not match")
	}

	return string(passphrase), nil
}

// promptForDecryptPassphrase prompts once for the passphrase of existing data
func promptForDecryptPassphrase(w io.Writer) (string, error) {
	passphrase, err := readSecret("Enter passphrase for decryption: ", w)
	if err != nil {
		return "", fmt.Errorf("error reading passphrase: %w", err)
	}

	if len(passphrase) == 0 {
		return "", fmt.Errorf("passphrase cannot be empty")
	}

	return string(passphrase), nil
}
