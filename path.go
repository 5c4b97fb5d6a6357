package dkit

import (
	"path/filepath"
	"strings"
)

// NormalizePath cleans a path and converts it to forward slashes regardless
// of the operating system. Empty paths remain empty.
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}

	cleaned := filepath.Clean(path)
	return strings.ReplaceAll(cleaned, "\\", "/")
}

// JoinPaths joins path elements and normalizes the result.
func JoinPaths(elem ...string) string {
	return NormalizePath(filepath.Join(elem...))
}

// AbsPath returns the absolute path for a given path
// If an error occurs, it returns the original path
func AbsPath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return NormalizePath(absPath)
}

// DirPath returns the directory portion of a path
func DirPath(path string) string {
	return NormalizePath(filepath.Dir(NormalizePath(path)))
}

// DedupePaths drops empty entries and later duplicates, keeping the first
// occurrence of every path in its original position.
func DedupePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	result := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		result = append(result, p)
	}
	return result
}

// IncludeFlags renders one -I flag per path.
func IncludeFlags(paths []string) []string {
	flags := make([]string, 0, len(paths))
	for _, p := range paths {
		flags = append(flags, "-I"+p)
	}
	return flags
}
