package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/store"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a healing policy from a YAML file",
	Long: `Apply a wardend healing policy from a YAML manifest, without
needing the admin API reachable.

Examples:
  # Enroll a container and give it a custom HTTP probe
  wardend apply -f web-policy.yaml

  # Toggle global maintenance mode
  wardend apply -f maintenance.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}

// manifest is a generic wardend resource: one YAML document describing
// either a container's healing policy or the maintenance flag.
type manifest struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   manifestMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type manifestMetadata struct {
	Name string `yaml:"name"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}

	st, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer st.Close()

	switch m.Kind {
	case "HealingPolicy":
		return applyHealingPolicy(st, &m)
	case "Maintenance":
		return applyMaintenance(st, &m)
	default:
		return fmt.Errorf("unsupported manifest kind: %q", m.Kind)
	}
}

func applyHealingPolicy(st *store.JSONStore, m *manifest) error {
	stableID := m.Metadata.Name
	if stableID == "" {
		return fmt.Errorf("metadata.name is required")
	}

	selected, _ := m.Spec["selected"].(bool)
	err := st.UpdateConfig(func(d *config.Document) error {
		if selected {
			d.Selection.Selected[stableID] = true
			delete(d.Selection.Excluded, stableID)
		} else {
			delete(d.Selection.Selected, stableID)
			d.Selection.Excluded[stableID] = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update selection: %v", err)
	}
	fmt.Printf("✓ healing policy applied: %s (selected=%t)\n", stableID, selected)

	probeSpec, ok := m.Spec["probe"].(map[string]interface{})
	if !ok {
		return nil
	}
	probe := config.Probe{
		Kind:           config.ProbeKind(getString(probeSpec, "kind", "")),
		Endpoint:       getString(probeSpec, "endpoint", ""),
		ExpectedStatus: getInt(probeSpec, "expectedStatus", 0),
		Port:           getInt(probeSpec, "port", 0),
		Timeout:        time.Duration(getInt(probeSpec, "timeoutSeconds", 5)) * time.Second,
	}
	if argv, ok := probeSpec["argv"].([]interface{}); ok {
		for _, a := range argv {
			probe.Argv = append(probe.Argv, fmt.Sprintf("%v", a))
		}
	}
	if err := st.SetCustomProbe(stableID, probe); err != nil {
		return fmt.Errorf("failed to apply custom probe: %v", err)
	}
	fmt.Printf("✓ custom probe applied: %s (%s)\n", stableID, probe.Kind)
	return nil
}

func applyMaintenance(st *store.JSONStore, m *manifest) error {
	enabled, _ := m.Spec["enabled"].(bool)
	if err := st.SetMaintenance(enabled); err != nil {
		return fmt.Errorf("failed to set maintenance mode: %v", err)
	}
	fmt.Printf("✓ maintenance mode set to %t\n", enabled)
	return nil
}

func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getInt(m map[string]interface{}, key string, defaultValue int) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return defaultValue
}
