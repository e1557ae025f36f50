package drift

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/catherinevee/driftcert/internal/classifier"
	"github.com/catherinevee/driftcert/internal/models"
)

// TreeFile is one enumerated file of a materialised tree
type TreeFile struct {
	Path     string
	AbsPath  string
	Size     int64
	SHA256   string
	Category classifier.FileCategory
	EnvTag   string
}

// Tree is the snapshot of one side of the diff
type Tree struct {
	Root  string
	Files map[string]TreeFile
}

// SnapshotTree enumerates a materialised directory, hashing every file.
// Hidden paths and .git/ are excluded.
func SnapshotTree(root string) (*Tree, error) {
	tree := &Tree{Root: root, Files: make(map[string]TreeFile)}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if isHidden(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if isHidden(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hash, err := hashFile(path)
		if err != nil {
			return err
		}

		tree.Files[rel] = TreeFile{
			Path:     rel,
			AbsPath:  path,
			Size:     info.Size(),
			SHA256:   hash,
			Category: classifier.Classify(rel),
			EnvTag:   classifier.EnvironmentTag(rel),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func isHidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Read returns a file's content, or nil when the path is absent
func (t *Tree) Read(rel string) []byte {
	f, ok := t.Files[rel]
	if !ok {
		return nil
	}
	data, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil
	}
	return data
}

// Has reports path membership
func (t *Tree) Has(rel string) bool {
	_, ok := t.Files[rel]
	return ok
}

func (t *Tree) entry(rel string) models.FileEntry {
	f := t.Files[rel]
	return models.FileEntry{
		Path:     f.Path,
		Size:     f.Size,
		SHA256:   f.SHA256,
		Category: categoryFor(f.Category),
		EnvTag:   f.EnvTag,
	}
}

func categoryFor(fc classifier.FileCategory) models.DeltaCategory {
	switch fc {
	case classifier.FileConfig:
		return models.CategoryConfig
	case classifier.FileBuild:
		return models.CategoryBuildConfig
	default:
		return models.CategoryOther
	}
}
