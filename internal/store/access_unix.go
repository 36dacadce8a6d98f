//go:build unix

package store

import "golang.org/x/sys/unix"

// writable reports whether the caller may write to path. It only reads metadata.
func writable(path string) error {
	return unix.Access(path, unix.W_OK)
}
