package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"policyrag/internal/domain"
)

// MaxFileSize caps the size of a single policy file.
const MaxFileSize = 20 << 20

// Walker finds plain-text policy files under a root using doublestar globs
// matched against slash-separated relative paths.
type Walker struct {
	includes []string
	excludes []string
}

func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

type FileInfo struct {
	Path    string // absolute
	RelPath string // slash-separated, relative to the walk root
	ModTime int64
	Size    int64
}

// Walk lists matching files in lexical order. A root that is a regular file
// is returned as is.
func (w *Walker) Walk(root string) ([]FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return []FileInfo{{
			Path:    root,
			RelPath: filepath.Base(root),
			ModTime: st.ModTime().Unix(),
			Size:    st.Size(),
		}}, nil
	}

	var files []FileInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && w.shouldExclude(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !w.shouldInclude(rel) || w.shouldExclude(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Path:    path,
			RelPath: rel,
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
		})
		return nil
	})

	return files, err
}

func (w *Walker) shouldInclude(path string) bool {
	return matchAny(w.includes, path)
}

func (w *Walker) shouldExclude(path string) bool {
	return matchAny(w.excludes, path) || matchAny(w.excludes, strings.TrimSuffix(path, "/"))
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// ReadDocument loads a file as a Document whose id is the relative path.
// Files that are too large or not valid UTF-8 are rejected.
func ReadDocument(f FileInfo) (domain.Document, error) {
	if f.Size > MaxFileSize {
		return domain.Document{}, fmt.Errorf("%s is larger than %d bytes", f.RelPath, MaxFileSize)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return domain.Document{}, err
	}
	if !utf8.Valid(data) {
		return domain.Document{}, fmt.Errorf("%s is not valid UTF-8 text", f.RelPath)
	}

	return domain.Document{
		ID:         f.RelPath,
		SourcePath: f.Path,
		Text:       string(data),
		Metadata: map[string]string{
			"filename": filepath.Base(f.Path),
			"ext":      strings.TrimPrefix(filepath.Ext(f.Path), "."),
		},
	}, nil
}
