package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/ledgerd/src/crypto/keys"
	"github.com/mosaicnetworks/ledgerd/src/ledgerd"
)

var keygenDataDir string

// NewKeygenCmd produces a KeygenCmd which create a key pair
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create new key pair",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&keygenDataDir, "datadir", _config.DataDir, "Directory where the key pair will be written")
}

func keygen(cmd *cobra.Command, args []string) error {
	key, err := ledgerd.Keygen(keygenDataDir)
	if err != nil {
		return err
	}

	fmt.Printf("Your key pair has been saved to: %s\n", keygenDataDir)
	fmt.Printf("Public key: %s\n", keys.PublicKeyHex(&key.PublicKey))

	return nil
}
