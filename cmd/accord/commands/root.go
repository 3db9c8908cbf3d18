package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiwatching/accord/internal/config"
	"github.com/aiwatching/accord/internal/registry"
	"github.com/aiwatching/accord/internal/scaffold"
	"github.com/aiwatching/accord/internal/store"
	"github.com/aiwatching/accord/pkg/protocol"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "accord",
	Short: "Accord - git-native coordination of cross-repository work",
	Long: `Accord coordinates asynchronous work requests between independently-owned
service repositories, using shared git history as the only transport and
structured text records as the only data store.

Requests move through an auditable lifecycle (pending, approved,
in-progress, completed/rejected/failed); contracts and registry entries
follow a single-writer-per-owner rule, reconciled through a shared hub.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// workspace bundles everything a command needs to act on the current
// repository: the validated config, the record store and the registry.
type workspace struct {
	root     string
	cfg      *config.Config
	store    *store.Store
	registry *registry.Registry
}

// openWorkspace validates the current directory as an initialized accord
// repository and wires up the stores.
func openWorkspace() (*workspace, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	cfg, err := scaffold.Validate(root)
	if err != nil {
		return nil, err
	}

	layout := protocol.NewLayout(root)
	return &workspace{
		root:     root,
		cfg:      cfg,
		store:    store.New(layout),
		registry: registry.New(layout, cfg.Owner),
	}, nil
}
