package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/teemow/mailmirror/internal/config"
)

func newLoginCmd() *cobra.Command {
	var (
		configPath string
		username   string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the Bridge password in the system keyring",
		Long: `Prompt for the Bridge password of the configured account and store it in
the system keyring, so it does not have to live in the config file or the
environment. The password is read from stdin when stdin is not a terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envString(cmd, "config", "MAILMIRROR_CONFIG", &configPath)
			return runLogin(cmd, configPath, username)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	cmd.Flags().StringVar(&username, "username", "", "Account to store the password for (default: the configured username)")

	return cmd
}

func runLogin(cmd *cobra.Command, configPath, username string) error {
	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	if username == "" {
		username = cfg.Username
	}
	if username == "" {
		return errors.New("no username: set --username or username in the config")
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Bridge password for %s: ", username)
	password, err := readPassword(os.Stdin)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return errors.New("empty password")
	}

	ring, err := config.OpenKeyring(cfg.Keyring)
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}
	if err := config.StorePassword(ring, username, password); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Password for %s stored in the %q keyring\n", username, config.KeyringService)
	return nil
}

// readPassword reads without echo from a terminal and a single line
// otherwise.
func readPassword(f *os.File) (string, error) {
	if term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return readLine(f)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
