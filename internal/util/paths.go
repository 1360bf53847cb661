package util

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/iancoleman/strcase"
)

// maxCollisionSuffix bounds the search for a free file name.
const maxCollisionSuffix = 10000

// FileStem turns a task or subtask name into a file name stem. The name is
// kept as written; only runes that are unsafe in a path become '_'.
func FileStem(name string) string {
	stem := strings.Map(safeRune, strings.TrimSpace(name))
	if strings.Trim(stem, ".") == "" {
		return "unnamed"
	}
	return stem
}

func safeRune(r rune) rune {
	switch r {
	case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ',':
		return '_'
	}
	if unicode.IsSpace(r) || unicode.IsControl(r) {
		return '_'
	}
	return r
}

// CheckpointDirName returns a short, filesystem-safe directory name that is
// unique per checkpoint path. The base name is snake cased.
func CheckpointDirName(checkpoint string) string {
	h := sha256.Sum256([]byte(checkpoint))
	base := filepath.Base(strings.TrimRight(checkpoint, "/"))
	if base == "." || base == "/" || base == "" {
		base = "checkpoint"
	}
	return fmt.Sprintf("%s-%x", FileStem(strcase.ToSnake(base)), h[:6])
}

// CreateUnique creates a new file named stem+ext inside dir. If the name is
// taken it tries stem_1+ext, stem_2+ext and so on. Creation is exclusive so
// concurrent writers never share a file.
func CreateUnique(dir, stem, ext string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	for i := 0; i < maxCollisionSuffix; i++ {
		name := stem + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("no free file name for %s%s in %s", stem, ext, dir)
}
