package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSectionKeys maps every valid section to its valid keys.
var knownSectionKeys = map[string][]string{
	"auth": {
		"client_id", "client_secret", "redirect_url", "scopes", "auth_url",
		"token_url", "token_file", "safety_margin", "login_timeout", "poll_interval",
	},
	"upload": {
		"max_file_size", "chunk_size", "max_chunk_attempts", "retry_base_backoff",
		"request_timeout", "bandwidth_limit", "default_privacy", "default_category", "allowed_types",
	},
	"platform": {"upload_url", "api_url", "user_agent"},
	"server": {
		"listen", "public_url", "session_key", "shutdown_timeout", "history_db", "progress_ttl",
	},
	"metadata": {"endpoint", "api_key", "timeout"},
	"logging":  {"log_level", "log_format"},
}

// knownSectionsList is the sorted slice of section names. Sorted for
// deterministic suggestions when two candidates have the same edit distance.
var knownSectionsList = func() []string {
	keys := make([]string, 0, len(knownSectionKeys))
	for k := range knownSectionKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	seen := make(map[string]bool)

	for _, key := range undecoded {
		err := buildKeyError(md, key)

		// A bad table reports once per nested key; collapse duplicates.
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown key, suggesting
// the closest known section or key.
func buildKeyError(md *toml.MetaData, key toml.Key) error {
	if len(key) == 1 && md.Type(key[0]) == "Hash" {
		return unknownWithSuggestion("unknown config section", key[0], knownSectionsList)
	}

	if len(key) == 1 {
		if section := sectionOf(key[0]); section != "" {
			return fmt.Errorf("config key %q must be set in the [%s] section", key[0], section)
		}

		return unknownWithSuggestion("unknown config key", key[0], allKeysList())
	}

	section := key[0]

	keys, ok := knownSectionKeys[section]
	if !ok {
		return unknownWithSuggestion("unknown config section", section, knownSectionsList)
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	err := unknownWithSuggestion("unknown config key", key[1], sorted)

	return fmt.Errorf("[%s]: %w", section, err)
}

func unknownWithSuggestion(what, name string, known []string) error {
	if suggestion := closestMatch(name, known); suggestion != "" {
		return fmt.Errorf("%s %q, did you mean %q?", what, name, suggestion)
	}

	return fmt.Errorf("%s %q", what, name)
}

// allKeysList returns every known key qualified by section, for suggesting
// where a top-level key belongs.
func allKeysList() []string {
	var keys []string

	for _, section := range knownSectionsList {
		keys = append(keys, knownSectionKeys[section]...)
	}

	sort.Strings(keys)

	return keys
}

// sectionOf returns the section that owns key, or "".
func sectionOf(key string) string {
	for _, section := range knownSectionsList {
		for _, k := range knownSectionKeys[section] {
			if k == key {
				return section
			}
		}
	}

	return ""
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
