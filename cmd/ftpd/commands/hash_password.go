package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gonzalop/ftpengine/server"
)

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print the bcrypt hash of a password for the users section",
		Long: `Reads a password and prints its bcrypt hash, ready to paste into the
password_hash field of a user. The password is prompted for without echo on a
terminal, or read from the first line of standard input otherwise.

Examples:
  ftpd hash-password
  echo -n 's3cret' | ftpd hash-password`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			hash, err := server.HashPassword(password)
			if err != nil {
				return err
			}
			cmd.Println(hash)
			return nil
		},
	}
}

func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		cmd.PrintErr("Password: ")
		pass, err := term.ReadPassword(int(f.Fd()))
		cmd.PrintErrln()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return checkPassword(string(pass))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return checkPassword(strings.TrimRight(line, "\r\n"))
}

func checkPassword(pass string) (string, error) {
	if pass == "" {
		return "", errors.New("empty password")
	}
	return pass, nil
}
