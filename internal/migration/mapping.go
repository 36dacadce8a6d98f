package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

var stepFileRegex = regexp.MustCompile(`^(v\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?)_(.+)\.sql$`)

// Step is one mapping script that brings a store up to Version.
type Step struct {
	Version string
	Label   string
	Path    string
}

// Load reads the script and returns its up section.
func (s Step) Load() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("read mapping %s: %w", s.Path, err)
	}
	return ExtractUp(string(data)), nil
}

// FindSteps scans searchPaths for mapping scripts with versions in (from, to],
// sorted by version. When two paths hold the same version the earlier path
// wins. Missing directories are skipped.
func FindSteps(searchPaths []string, from, to string) ([]Step, error) {
	seen := map[string]bool{}
	var steps []Step
	for _, dir := range searchPaths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read mapping dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			m := stepFileRegex.FindStringSubmatch(e.Name())
			if m == nil || !semver.IsValid(m[1]) {
				continue
			}
			v := semver.Canonical(m[1])
			if semver.Compare(v, from) <= 0 || semver.Compare(v, to) > 0 || seen[v] {
				continue
			}
			seen[v] = true
			steps = append(steps, Step{Version: v, Label: m[2], Path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(steps, func(i, j int) bool { return semver.Compare(steps[i].Version, steps[j].Version) < 0 })
	return steps, nil
}

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// ExtractUp returns the SQL in the -- +migrate Up section, or all of content
// when there is no marker.
func ExtractUp(content string) string {
	upIdx := strings.Index(content, upMarker)
	if upIdx == -1 {
		return content
	}
	rest := content[upIdx+len(upMarker):]
	if downIdx := strings.Index(rest, downMarker); downIdx != -1 {
		return rest[:downIdx]
	}
	return rest
}
