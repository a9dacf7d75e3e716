package harness

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioNotFoundError is returned when a requested scenario path doesn't
// exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// FindScenarios expands paths into scenario files. A file is taken as is;
// a directory contributes every .yaml and .yml file beneath it. The result
// is sorted and free of duplicates.
func FindScenarios(paths ...string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return nil, &ScenarioNotFoundError{Path: path}
		}
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				// golden fixtures live next to scenarios
				if d.Name() == "golden" && p != path {
					return filepath.SkipDir
				}
				return nil
			}
			if ext := strings.ToLower(filepath.Ext(p)); ext == ".yaml" || ext == ".yml" {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
	}

	sort.Strings(files)
	return files, nil
}

// SuiteResult pairs a scenario file with its outcome.
type SuiteResult struct {
	Path   string  `json:"path"`
	Name   string  `json:"name,omitempty"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
}

// Passed reports whether the scenario loaded, ran and passed.
func (r SuiteResult) Passed() bool {
	return r.Err == nil && r.Result != nil && r.Result.Pass
}

// RunSuite loads and runs each scenario file in order. A scenario that
// fails to load or run is reported in its SuiteResult and does not stop
// the others.
func RunSuite(files []string) []SuiteResult {
	results := make([]SuiteResult, 0, len(files))
	for _, file := range files {
		sr := SuiteResult{Path: file}
		scenario, err := LoadScenario(file)
		if err != nil {
			sr.Err = err
			results = append(results, sr)
			continue
		}
		sr.Name = scenario.Name
		sr.Result, sr.Err = Run(scenario)
		results = append(results, sr)
	}
	return results
}
