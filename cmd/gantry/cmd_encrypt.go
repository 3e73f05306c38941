package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gantry/internal/deploy"

	"github.com/spf13/cobra"
)

// encryptCmd produces `secure:` payloads for pipeline credentials
var encryptCmd = &cobra.Command{
	Use:   "encrypt [plaintext]",
	Short: "Encrypt a credential for use as a secure: value",
	Long: `Encrypts a value with the key from ` + deploy.KeyEnv + ` and prints the
payload to place under a secure: key in the pipeline file:

  deploy:
    password:
      secure: <output>

With no argument the plaintext is read from stdin, which keeps it out of
shell history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var plaintext string
		if len(args) == 1 {
			plaintext = args[0]
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read plaintext from stdin: %w", err)
			}
			plaintext = strings.TrimRight(line, "\r\n")
		}
		if plaintext == "" {
			return fmt.Errorf("nothing to encrypt")
		}

		payload, err := deploy.EncryptSecret(plaintext)
		if err != nil {
			return err
		}
		fmt.Println(payload)
		return nil
	},
}
