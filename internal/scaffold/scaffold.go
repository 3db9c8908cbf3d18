// Package scaffold creates and validates the .accord replica layout for
// `accord init`.
package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aiwatching/accord/internal/config"
	"github.com/aiwatching/accord/pkg/protocol"
)

// CheckExisting returns an error when the repository already carries an
// accord.yml or a .accord tree, so init does not silently clobber a working
// setup.
func CheckExisting(repoRoot string) error {
	var existing []string

	if _, err := os.Stat(filepath.Join(repoRoot, config.FileName)); err == nil {
		existing = append(existing, config.FileName)
	}
	if info, err := os.Stat(filepath.Join(repoRoot, protocol.DirName)); err == nil && info.IsDir() {
		existing = append(existing, protocol.DirName+"/")
	}

	if len(existing) > 0 {
		msg := "already initialized\n\nFound existing:"
		for _, name := range existing {
			msg += fmt.Sprintf("\n  - %s", name)
		}
		msg += "\n\nUse 'accord init --force' to reinitialize (existing configuration is overwritten)"
		return fmt.Errorf("%s", msg)
	}

	return nil
}

// Initialize creates the replica layout and a starter accord.yml at
// repoRoot. With force, an existing configuration is removed first.
func Initialize(repoRoot, owner, hub, orchestrator string, force bool) error {
	if force {
		if err := os.Remove(filepath.Join(repoRoot, config.FileName)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove existing %s: %w", config.FileName, err)
		}
	} else if err := CheckExisting(repoRoot); err != nil {
		return err
	}

	layout := protocol.NewLayout(repoRoot)
	dirs := []string{
		layout.InboxDir(owner),
		layout.ArchiveDir(),
		layout.InternalContractsDir(owner),
		layout.RegistryDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	// git does not track empty directories; marker files keep the layout
	// intact across clones
	for _, dir := range dirs {
		keep := filepath.Join(dir, ".gitkeep")
		if err := os.WriteFile(keep, nil, 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", keep, err)
		}
	}

	content := fmt.Sprintf(`version: "1.0"
owner: %s
hub: %s
orchestrator: %s

# Uncomment to run the dispatch daemon (accordd) for this repository:
# daemon:
#   interval: 30s
#   worker_timeout: 5m
#   retry_bound: 3
#   command: ["./scripts/accord-worker.sh"]
`, owner, hub, orchestrator)

	path := filepath.Join(repoRoot, config.FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", config.FileName, err)
	}

	return nil
}

// Validate checks an initialized repository: the config parses and the
// layout directories exist. Returns the loaded config for the caller.
func Validate(repoRoot string) (*config.Config, error) {
	cfg, err := config.Load(repoRoot)
	if err != nil {
		return nil, err
	}

	layout := protocol.NewLayout(repoRoot)
	required := []string{
		layout.RequestsDir(),
		layout.ArchiveDir(),
		layout.ContractsDir(),
		layout.RegistryDir(),
	}
	for _, dir := range required {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("replica layout is incomplete: missing %s (re-run 'accord init')", dir)
		}
	}

	return cfg, nil
}
