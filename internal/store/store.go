package store

import (
	"fmt"
	"os"
)

// CheckExists verifies if a store file exists at path.
// Returns true if the file exists, false otherwise.
func CheckExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check store existence: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("store path is a directory, expected file: %s", path)
	}
	return true, nil
}

// ExistingFiles returns the main file and the location+suffix side files that
// exist. Drivers use it to implement Eraser.StoreFiles.
func ExistingFiles(location string, suffixes ...string) (main string, auxiliary []string, err error) {
	ok, err := CheckExists(location)
	if err != nil {
		return "", nil, err
	}
	if ok {
		main = location
	}
	for _, suffix := range suffixes {
		name := location + suffix
		ok, err := CheckExists(name)
		if err != nil {
			return "", nil, err
		}
		if ok {
			auxiliary = append(auxiliary, name)
		}
	}
	return main, auxiliary, nil
}
