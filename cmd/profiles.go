package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"killwatch/config"
	"killwatch/core"
	"killwatch/storage"
	"killwatch/surveil"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage surveillance profile packs",
}

var profilesImportCmd = &cobra.Command{
	Use:   "import <pack.yaml>",
	Short: "Import a YAML profile pack into the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesImport,
}

var profilesExportCmd = &cobra.Command{
	Use:   "export <pack.yaml>",
	Short: "Export every stored profile to a YAML pack",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesExport,
}

func init() {
	profilesCmd.AddCommand(profilesImportCmd)
	profilesCmd.AddCommand(profilesExportCmd)
	rootCmd.AddCommand(profilesCmd)
}

// profilePack is the YAML envelope for import/export.
type profilePack struct {
	Profiles []core.Profile `yaml:"profiles"`
}

func openStore() (*storage.ProfileStore, func(), error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := zap.NewNop().Sugar()
	sqlite, err := storage.NewSQLite(cfg.SQLitePath(), logger)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewProfileStore(sqlite, logger), func() { sqlite.Close() }, nil
}

func runProfilesImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read profile pack: %w", err)
	}
	var pack profilePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return fmt.Errorf("failed to parse profile pack: %w", err)
	}

	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" Importing %d profiles...", len(pack.Profiles))
	s.Start()

	imported, rejected := 0, 0
	for i := range pack.Profiles {
		p := pack.Profiles[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Version == 0 {
			p.Version = 1
		}
		// Reject broken trees here rather than at the next engine sync.
		if _, err := surveil.Compile(&p.FilterTree); err != nil {
			rejected++
			s.Stop()
			color.Red("  ✗ %s: %v", p.Name, err)
			s.Start()
			continue
		}
		if err := store.UpsertProfile(&p); err != nil {
			rejected++
			s.Stop()
			color.Red("  ✗ %s: %v", p.Name, err)
			s.Start()
			continue
		}
		imported++
	}
	s.Stop()

	color.Green("Imported %d profiles", imported)
	if rejected > 0 {
		color.Yellow("Rejected %d profiles", rejected)
	}
	return nil
}

func runProfilesExport(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	profiles, err := store.GetAllProfiles()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(profilePack{Profiles: profiles})
	if err != nil {
		return fmt.Errorf("failed to encode profile pack: %w", err)
	}
	if err := os.WriteFile(args[0], data, 0o640); err != nil {
		return fmt.Errorf("failed to write profile pack: %w", err)
	}

	color.Green("Exported %d profiles to %s", len(profiles), args[0])
	return nil
}
