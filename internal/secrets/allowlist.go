package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist contains path and content regex patterns excluded from secret
// detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlists loads and merges project and user allowlists, union
// semantics. Missing files are silently ignored; invalid TOML or regex
// patterns are errors.
//
// projectPath is a directory containing .gitleaks.toml; userPath is a full
// path to a user allowlist.toml. Either may be empty.
func LoadAllowlists(projectPath, userPath string) (*Allowlist, error) {
	merged := &Allowlist{}

	paths := []string{}
	if projectPath != "" {
		paths = append(paths, filepath.Join(projectPath, ".gitleaks.toml"))
	}
	if userPath != "" {
		paths = append(paths, userPath)
	}

	for _, path := range paths {
		loaded, err := loadTOML(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		merged.Paths = append(merged.Paths, loaded.Paths...)
		merged.Regexes = append(merged.Regexes, loaded.Regexes...)
	}

	return merged, nil
}

// loadTOML loads and validates a single allowlist file. Patterns are
// compiled here fail-fast so later use can assume validity.
func loadTOML(path string) (*Allowlist, error) {
	var config struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range config.Allowlist.Paths {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: path pattern %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	for _, pattern := range config.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: content pattern %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:   config.Allowlist.Paths,
		Regexes: config.Allowlist.Regexes,
	}, nil
}
