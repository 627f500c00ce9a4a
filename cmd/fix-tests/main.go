// fix-tests rewrites the expected "up" statements of planner test cases with
// what the planner currently produces. Review the diff before committing.
package main

import (
	"context"
	"fmt"
	"log"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/migrate"
	"github.com/cqldef/cqldef/schema"
	"github.com/goccy/go-yaml"
)

type TestCase struct {
	Table          string   `yaml:"table,omitempty"`
	Current        string   `yaml:"current,omitempty"`
	Desired        string   `yaml:"desired,omitempty"`
	Mode           string   `yaml:"mode,omitempty"`
	Environment    string   `yaml:"environment,omitempty"`
	AlterableTypes []string `yaml:"alterable_types,omitempty"`
	Answers        []string `yaml:"answers,omitempty"`
	Up             *string  `yaml:"up,omitempty"`
	Prompts        []string `yaml:"prompts,omitempty"`
	Error          *string  `yaml:"error,omitempty"`
}

type TestFailure struct {
	TestName string
	YamlFile string
	Expected string
	Actual   string
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	pattern := "migrate/tests/*.yml"
	if len(os.Args) > 1 && os.Args[1] != "" {
		pattern = os.Args[1]
	}
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	var failures []TestFailure
	for _, file := range files {
		found, err := checkFile(file)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		failures = append(failures, found...)
	}

	fmt.Printf("Found %d failing tests\n", len(failures))

	// Group failures by category
	categories := categorizeFailures(failures)
	fmt.Println("\n=== Failure Categories ===")
	for category, count := range categories {
		fmt.Printf("  %s: %d\n", category, count)
	}

	fixed := 0
	for _, failure := range failures {
		if err := updateYamlFile(failure.YamlFile, failure.TestName, "up", failure.Actual); err != nil {
			log.Printf("Failed to fix test %s: %v", failure.TestName, err)
			continue
		}
		fmt.Printf("Fixed test: %s in %s\n", failure.TestName, filepath.Base(failure.YamlFile))
		fixed++
	}

	fmt.Printf("\n=== Summary ===\n")
	fmt.Printf("Total failures: %d\n", len(failures))
	fmt.Printf("Fixed: %d\n", fixed)
	fmt.Printf("Failed to fix: %d\n", len(failures)-fixed)
	return nil
}

func checkFile(file string) ([]TestFailure, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var tests map[string]TestCase
	if err := yaml.Unmarshal(data, &tests); err != nil {
		return nil, err
	}

	var failures []TestFailure
	for _, name := range slices.Sorted(maps.Keys(tests)) {
		test := tests[name]
		if test.Up == nil || test.Error != nil {
			continue
		}
		actual, err := plan(test)
		if err != nil {
			log.Printf("Skipping test %s: %v", name, err)
			continue
		}
		if strings.TrimSpace(actual) != strings.TrimSpace(*test.Up) {
			failures = append(failures, TestFailure{TestName: name, YamlFile: file, Expected: *test.Up, Actual: actual})
		}
	}
	return failures, nil
}

// plan runs the case the way the planner tests do and returns the statements
// it would execute.
func plan(test TestCase) (string, error) {
	if test.Table == "" {
		test.Table = "t"
	}
	if test.Mode == "" {
		test.Mode = string(migrate.ModeAlter)
	}
	desired, err := normalize(test.Table, test.Desired)
	if err != nil {
		return "", err
	}
	var live *schema.Live
	if test.Current != "" {
		current, err := normalize(test.Table, test.Current)
		if err != nil {
			return "", err
		}
		if live, err = schema.FromCatalog(test.Table, schema.CatalogOf(current)); err != nil {
			return "", err
		}
	}

	planner, err := migrate.NewPlanner(database.GeneratorConfig{
		Migration:      test.Mode,
		Environment:    test.Environment,
		AlterableTypes: test.AlterableTypes,
	})
	if err != nil {
		return "", err
	}
	var confirm migrate.ConfirmationProvider = migrate.AlwaysApprove{}
	if test.Answers != nil {
		confirm = &migrate.Scripted{Answers: test.Answers}
	}
	session := database.NewDryRunSession(nil, nil)
	executor := &migrate.Executor{Session: session, Confirm: confirm}

	p, err := planner.Plan(desired, live)
	if err != nil {
		return "", err
	}
	// a declined prompt still leaves the statements run before it
	_ = executor.Execute(context.Background(), p)

	var b strings.Builder
	for _, stmt := range session.Recorded() {
		b.WriteString(stmt)
		b.WriteString(";\n")
	}
	return b.String(), nil
}

func normalize(table, definition string) (*schema.NormalizedSchema, error) {
	s, err := schema.ParseTable(table, []byte(definition))
	if err != nil {
		return nil, err
	}
	return schema.Normalize(s)
}

// updateYamlFile replaces the block scalar of field inside testName, keeping
// the rest of the file as written.
func updateYamlFile(filename, testName, field, newValue string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")
	var result []string

	inTest := false
	testIndent := 0

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		indent := len(line) - len(strings.TrimLeft(line, " "))

		if trimmed == testName+":" {
			inTest = true
			testIndent = indent
			result = append(result, line)
			continue
		}

		// Another key at the same or lower indent ends the test
		if inTest && trimmed != "" && indent <= testIndent {
			inTest = false
		}

		if inTest && strings.HasPrefix(trimmed, field+": |") {
			result = append(result, line)
			for _, vline := range strings.Split(strings.TrimRight(newValue, "\n"), "\n") {
				result = append(result, strings.Repeat(" ", indent+2)+vline)
			}

			// Skip the old block
			for i+1 < len(lines) {
				next := lines[i+1]
				nextIndent := len(next) - len(strings.TrimLeft(next, " "))
				if strings.TrimSpace(next) != "" && nextIndent <= indent {
					break
				}
				i++
			}
			inTest = false
			continue
		}

		result = append(result, line)
	}

	return os.WriteFile(filename, []byte(strings.Join(result, "\n")), 0644)
}

func categorizeFailures(failures []TestFailure) map[string]int {
	categories := make(map[string]int)
	for _, failure := range failures {
		categories[categorizeFailure(failure)]++
	}
	return categories
}

func categorizeFailure(failure TestFailure) string {
	exp := strings.Split(strings.TrimSpace(failure.Expected), "\n")
	act := strings.Split(strings.TrimSpace(failure.Actual), "\n")

	if len(exp) == len(act) {
		sortedExp := slices.Sorted(slices.Values(exp))
		sortedAct := slices.Sorted(slices.Values(act))
		if slices.Equal(sortedExp, sortedAct) {
			return "Statement ordering differences"
		}
	}
	if len(act) < len(exp) {
		return "Missing statements"
	}
	if len(act) > len(exp) {
		return "Extra statements"
	}
	if strings.ReplaceAll(failure.Expected, `"`, "") == strings.ReplaceAll(failure.Actual, `"`, "") {
		return "Quote differences"
	}
	return "Other"
}
