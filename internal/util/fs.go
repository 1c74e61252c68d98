package util

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolveUnder joins rel onto root and refuses results outside root.
func ResolveUnder(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%s: %w", rel, ErrUnsafePath)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	p := filepath.Join(absRoot, rel)
	if p != absRoot && !strings.HasPrefix(p, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", rel, ErrUnsafePath)
	}
	return p, nil
}
