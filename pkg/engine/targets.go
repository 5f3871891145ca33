package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/src-d/enry/v2"

	"github.com/Sumatoshi-tech/codesift/pkg/diag"
	"github.com/Sumatoshi-tech/codesift/pkg/uast"
)

// ErrScanPath is returned when the scan root cannot be accessed.
var ErrScanPath = errors.New("scan path not accessible")

// DefaultExcludeDirs are directory names never descended into.
var DefaultExcludeDirs = []string{
	"helm", ".idea", "venv", "test", "tests", ".env", "dist", "build", "migrations", ".github",
}

// Target is a file to scan.
type Target struct {
	// Path is the file system path used to read the file.
	Path string
	// Display is the path recorded in findings, relative to the scan root.
	Display string
	// Explicit marks a file the user named directly rather than one found by
	// walking a directory.
	Explicit bool
}

// TargetOptions control target discovery.
type TargetOptions struct {
	// Exclude lists additional directory names to skip.
	Exclude []string
	// Languages restricts discovery to files in these languages. Empty means
	// every supported language.
	Languages []string
}

// CollectTargets returns the files under root that can be scanned, sorted by
// display path. Unreadable directories are reported as io diagnostics.
func CollectTargets(root string, opts TargetOptions) ([]Target, []diag.Diagnostic, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrScanPath, &IOError{Op: "stat", Path: root, Err: err})
	}

	if !info.IsDir() {
		return []Target{{Path: root, Display: filepath.ToSlash(root), Explicit: true}}, nil, nil
	}

	excluded := make(map[string]struct{}, len(DefaultExcludeDirs)+len(opts.Exclude))
	for _, name := range slices.Concat(DefaultExcludeDirs, opts.Exclude) {
		excluded[name] = struct{}{}
	}

	var (
		targets []Target
		diags   []diag.Diagnostic
	)

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			diags = append(diags, diag.Error(diag.KindIO, displayPath(root, path), err.Error()))

			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if path == root {
			return nil
		}

		rel := displayPath(root, path)

		if entry.IsDir() {
			if skipDir(entry.Name(), rel, excluded) {
				return fs.SkipDir
			}

			return nil
		}

		if !entry.Type().IsRegular() || enry.IsVendor(rel) {
			return nil
		}

		lang := uast.DetectLanguage(path)
		if lang == "" || (len(opts.Languages) > 0 && !slices.Contains(opts.Languages, lang)) {
			return nil
		}

		targets = append(targets, Target{Path: path, Display: rel})

		return nil
	})
	if walkErr != nil {
		return nil, diags, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	slices.SortFunc(targets, func(left, right Target) int { return strings.Compare(left.Display, right.Display) })

	return targets, diags, nil
}

func skipDir(name, rel string, excluded map[string]struct{}) bool {
	if _, ok := excluded[name]; ok {
		return true
	}

	if strings.HasPrefix(name, ".") {
		return true
	}

	return enry.IsVendor(rel + "/")
}

func displayPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}

	return filepath.ToSlash(rel)
}
