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

// knownKeys are the valid keys of each config section.
var knownKeys = map[string][]string{
	"auth": {
		"proxy_url", "callback_port", "callback_path",
		"credential_backend", "credential_retention", "open_browser",
	},
	"storage": {
		"folder_name", "config_document", "gist_description",
		"drive_api_url", "drive_upload_url", "github_api_url",
	},
	"sync":    {"local_config", "watch_debounce"},
	"logging": {"log_level", "log_format", "log_file"},
	"network": {"timeout", "max_retries", "user_agent"},
}

// knownSections is the sorted list of section names. Sorted for
// deterministic suggestions when two candidates have the same edit distance.
var knownSections = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, buildKeyError(key))
	}

	return errors.Join(errs...)
}

// buildKeyError describes an unknown key. Inside a known section the
// suggestion comes from that section's keys. A key outside every section
// is matched against both section names and every section's keys, so a
// flat "log_level" points at [logging].
func buildKeyError(key toml.Key) error {
	keyStr := key.String()

	if len(key) > 1 {
		if sectionKeys, ok := knownKeys[key[0]]; ok {
			if suggestion := closestMatch(key[1], sectionKeys); suggestion != "" {
				return fmt.Errorf("unknown config key %q; did you mean %q?", keyStr, key[0]+"."+suggestion)
			}

			return fmt.Errorf("unknown config key %q", keyStr)
		}
	}

	if suggestion := closestMatch(key[0], knownSections); suggestion != "" {
		return fmt.Errorf("unknown config key %q; did you mean [%s]?", keyStr, suggestion)
	}

	for _, section := range knownSections {
		for _, k := range knownKeys[section] {
			if k == key[0] {
				return fmt.Errorf("unknown config key %q: %q belongs in [%s]", keyStr, k, section)
			}
		}
	}

	return fmt.Errorf("unknown config key %q", keyStr)
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

	// Use single-row optimization to avoid allocating a full matrix.
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

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
