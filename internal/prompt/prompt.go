// Package prompt reads wallet creation answers from the console.
package prompt

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ProvideBool asks prefix until the answer is yes or no. An empty answer
// selects defaultYes.
func ProvideBool(reader *bufio.Reader, prefix string, defaultYes bool) (bool, error) {
	choices := "(y/N)"
	if defaultYes {
		choices = "(Y/n)"
	}
	for {
		fmt.Printf("%s %s: ", prefix, choices)
		reply, err := reader.ReadString('\n')
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(reply)) {
		case "":
			return defaultYes, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

// readSecret reads a line without echo when stdin is a terminal.
func readSecret(reader *bufio.Reader) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pass, err := term.ReadPassword(fd)
		fmt.Println()
		return pass, err
	}
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// PassPrompt asks for a passphrase, twice when confirm is set, until a
// non-empty one is entered.
func PassPrompt(reader *bufio.Reader, prefix string, confirm bool) ([]byte, error) {
	for {
		fmt.Printf("%s: ", prefix)
		pass, err := readSecret(reader)
		if err != nil {
			return nil, err
		}
		if len(pass) == 0 {
			continue
		}
		if !confirm {
			return pass, nil
		}

		fmt.Print("Confirm passphrase: ")
		again, err := readSecret(reader)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(pass, again) {
			fmt.Println("The entered passphrases do not match")
			continue
		}
		return pass, nil
	}
}

// PrivatePass asks whether the new wallet is encrypted and returns the
// passphrase, nil for an unencrypted wallet.
func PrivatePass(reader *bufio.Reader) ([]byte, error) {
	encrypt, err := ProvideBool(reader, "Do you want to encrypt the wallet "+
		"with a private passphrase?", true)
	if err != nil || !encrypt {
		return nil, err
	}
	return PassPrompt(reader, "Enter the private passphrase for your new wallet", true)
}
