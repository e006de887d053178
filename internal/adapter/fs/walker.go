package fs

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Walker selects ingestable document files under a root using glob
// include/exclude patterns.
type Walker struct {
	includes []string
	excludes []string
}

// NewWalker creates a Walker. With no includes, everything matches.
func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// FileInfo describes one candidate document file.
type FileInfo struct {
	Path string
	Name string
	Ext  string // lowercased extension without the dot
	Size int64
}

// Walk returns the matching files under root in lexical order.
func (w *Walker) Walk(root string) ([]FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if info.IsDir() {
			if w.excluded(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		if w.included(rel) && !w.excluded(rel) {
			files = append(files, FileInfo{
				Path: path,
				Name: info.Name(),
				Ext:  strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
				Size: info.Size(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

func (w *Walker) included(rel string) bool {
	for _, pattern := range w.includes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (w *Walker) excluded(rel string) bool {
	for _, pattern := range w.excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
