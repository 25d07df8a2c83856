//go:build !linux

package cachestore

import "os"

func openReadOnly(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY, 0o644)
}
