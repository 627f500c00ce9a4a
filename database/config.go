package database

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v2"
)

// GeneratorConfig controls how a desired schema is reconciled against the
// live one.
type GeneratorConfig struct {
	// Migration is one of safe, alter or drop. Empty means derive it from
	// DropTableOnSchemaChange.
	Migration               string
	DropTableOnSchemaChange bool
	DisableConfirmation     bool
	Environment             string
	// AlterableTypes lists extra "from:to" type changes that can be applied
	// with ALTER ... TYPE.
	AlterableTypes []string
	TargetTables   []string
	SkipTables     []string
	// Concurrency limits parallel catalog lookups; 0 disables concurrency
	// and a negative value removes the limit.
	Concurrency int
}

type generatorConfigFile struct {
	Migration               string   `yaml:"migration"`
	DropTableOnSchemaChange *bool    `yaml:"drop_table_on_schema_change"`
	DisableConfirmation     *bool    `yaml:"disable_confirmation"`
	Environment             string   `yaml:"environment"`
	AlterableTypes          []string `yaml:"alterable_types"`
	TargetTables            string   `yaml:"target_tables"`
	SkipTables              string   `yaml:"skip_tables"`
	Concurrency             *int     `yaml:"concurrency"`
}

// ParseGeneratorConfig reads a YAML config file. An empty path yields the
// zero config.
func ParseGeneratorConfig(configFile string) (GeneratorConfig, error) {
	if configFile == "" {
		return GeneratorConfig{}, nil
	}
	buf, err := os.ReadFile(configFile)
	if err != nil {
		return GeneratorConfig{}, err
	}
	config, err := parseGeneratorConfig(buf)
	if err != nil {
		return GeneratorConfig{}, fmt.Errorf("failed to parse %s: %w", configFile, err)
	}
	return config, nil
}

// ParseGeneratorConfigString reads config given inline on the command line.
func ParseGeneratorConfigString(yamlString string) (GeneratorConfig, error) {
	if yamlString == "" {
		return GeneratorConfig{}, nil
	}
	return parseGeneratorConfig([]byte(yamlString))
}

func parseGeneratorConfig(buf []byte) (GeneratorConfig, error) {
	var file generatorConfigFile
	if err := yaml.UnmarshalStrict(buf, &file); err != nil {
		return GeneratorConfig{}, err
	}
	config := GeneratorConfig{
		Migration:      strings.ToLower(strings.TrimSpace(file.Migration)),
		Environment:    file.Environment,
		AlterableTypes: file.AlterableTypes,
		TargetTables:   splitLines(file.TargetTables),
		SkipTables:     splitLines(file.SkipTables),
	}
	switch config.Migration {
	case "", "safe", "alter", "drop":
	default:
		return GeneratorConfig{}, fmt.Errorf("unknown migration mode %q (expected safe, alter or drop)", file.Migration)
	}
	if file.DropTableOnSchemaChange != nil {
		config.DropTableOnSchemaChange = *file.DropTableOnSchemaChange
	}
	if file.DisableConfirmation != nil {
		config.DisableConfirmation = *file.DisableConfirmation
	}
	if file.Concurrency != nil {
		config.Concurrency = *file.Concurrency
	}
	return config, nil
}

func splitLines(s string) []string {
	s = strings.Trim(s, "\n")
	if s == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// MergeGeneratorConfigs overlays override on base. Scalars set in override
// win; lists are concatenated without duplicates.
func MergeGeneratorConfigs(base, override GeneratorConfig) GeneratorConfig {
	merged := base
	if override.Migration != "" {
		merged.Migration = override.Migration
	}
	if override.Environment != "" {
		merged.Environment = override.Environment
	}
	merged.DropTableOnSchemaChange = base.DropTableOnSchemaChange || override.DropTableOnSchemaChange
	merged.DisableConfirmation = base.DisableConfirmation || override.DisableConfirmation
	if override.Concurrency != 0 {
		merged.Concurrency = override.Concurrency
	}
	merged.AlterableTypes = mergeLists(base.AlterableTypes, override.AlterableTypes)
	merged.TargetTables = mergeLists(base.TargetTables, override.TargetTables)
	merged.SkipTables = mergeLists(base.SkipTables, override.SkipTables)
	return merged
}

func mergeLists(a, b []string) []string {
	merged := slices.Clone(a)
	for _, v := range b {
		if !slices.Contains(merged, v) {
			merged = append(merged, v)
		}
	}
	return merged
}

// TableSelected applies TargetTables and SkipTables to a table name.
func (c GeneratorConfig) TableSelected(table string) bool {
	if slices.Contains(c.SkipTables, table) {
		return false
	}
	return len(c.TargetTables) == 0 || slices.Contains(c.TargetTables, table)
}
