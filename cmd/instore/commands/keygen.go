package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/mscno/instore/pkg/crypto"
	"github.com/mscno/instore/pkg/oskeyring"
)

type KeygenCmd struct {
	Save    bool `help:"Store the key in the OS keyring instead of printing it." short:"s"`
	Recover bool `help:"Rebuild a key from its 24-word recovery phrase (read from stdin)." short:"r"`
}

func (c *KeygenCmd) Run(ctx *cliCtx) error {
	if c.Recover {
		return c.recoverKey(ctx)
	}

	// 256 bits of entropy double as the key material and the mnemonic seed,
	// so the printed phrase recovers exactly this key.
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	key, err := crypto.KeyFromEntropy(entropy)
	if err != nil {
		return err
	}
	return c.emit(ctx, key, mnemonic)
}

func (c *KeygenCmd) recoverKey(ctx *cliCtx) error {
	fmt.Println("Paste your 24-word recovery phrase (separated by spaces):")
	reader := bufio.NewReader(os.Stdin)
	mnemonic, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read mnemonic: %w", err)
	}
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if len(strings.Fields(mnemonic)) != 24 {
		return fmt.Errorf("invalid recovery phrase: must be exactly 24 words")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return fmt.Errorf("invalid recovery phrase")
	}
	entropy, err := bip39.MnemonicToByteArray(mnemonic, true)
	if err != nil {
		return fmt.Errorf("failed to convert mnemonic to entropy: %w", err)
	}
	key, err := crypto.KeyFromEntropy(entropy)
	if err != nil {
		return err
	}
	return c.emit(ctx, key, "")
}

func (c *KeygenCmd) emit(ctx *cliCtx, key, mnemonic string) error {
	if c.Save {
		if _, err := ctx.OSKeyring.Get(keyringService, keyringUser); err == nil {
			var resp string
			fmt.Print("A key already exists in the keyring. Overwrite? [y/N]: ")
			fmt.Scanln(&resp)
			if resp != "y" && resp != "Y" {
				fmt.Println("Aborted: key not overwritten.")
				return nil
			}
		} else if !errors.Is(err, oskeyring.ErrNotFound) {
			return err
		}
		if err := ctx.OSKeyring.Set(keyringService, keyringUser, key); err != nil {
			return fmt.Errorf("failed to save key to keyring: %w", err)
		}
		fmt.Println("Key saved to OS keyring.")
	} else {
		fmt.Printf("Key:\n%s\n", key)
	}

	if mnemonic != "" {
		fmt.Println("\nRecovery phrase (write it down, it is shown only once):")
		words := strings.Fields(mnemonic)
		for i, word := range words {
			fmt.Print(word)
			if (i+1)%8 == 0 || i == len(words)-1 {
				fmt.Println()
			} else {
				fmt.Print(" ")
			}
		}
	}
	return nil
}
