package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opstray-io/opstray/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage backend tokens in the OS keyring",
	Long: `Manage backend API tokens.

Tokens stored here live in the OS keyring instead of settings.yaml; the
backend's token_keyring flag is flipped accordingly. Valid backends are
openbao, consul, nomad and boundary.`,
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <backend>",
	Short: "Store a backend token in the keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenSet,
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear <backend>",
	Short: "Remove a backend token from the keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenClear,
}

func init() {
	tokenCmd.AddCommand(tokenClearCmd)
	tokenCmd.AddCommand(tokenSetCmd)
}

func backendSettings(settings *config.Settings, backend string) (*config.BackendSettings, error) {
	switch backend {
	case "openbao":
		return &settings.OpenBao, nil
	case "consul":
		return &settings.Consul, nil
	case "nomad":
		return &settings.Nomad, nil
	case "boundary":
		return &settings.Boundary, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (expected openbao, consul, nomad or boundary)", backend)
	}
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	backend := args[0]
	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	b, err := backendSettings(settings, backend)
	if err != nil {
		return err
	}

	fmt.Printf("Token for %s: ", backend)
	reader := bufio.NewReader(os.Stdin)
	token, _ := reader.ReadString('\n')
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("empty token")
	}

	if err := config.StoreToken(backend, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	// The plaintext copy in settings.yaml is cleared once the keyring holds
	// the token.
	b.Token = ""
	b.TokenKeyring = true
	if err := config.SaveSettings(settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	fmt.Printf("Token for %s stored in the OS keyring.\n", backend)
	return nil
}

func runTokenClear(cmd *cobra.Command, args []string) error {
	backend := args[0]
	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	b, err := backendSettings(settings, backend)
	if err != nil {
		return err
	}

	if err := config.DeleteToken(backend); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}

	b.TokenKeyring = false
	if err := config.SaveSettings(settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	fmt.Printf("Token for %s removed from the OS keyring.\n", backend)
	return nil
}
