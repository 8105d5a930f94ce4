package pipeline

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mholt/archiver/v3"
)

// junkPatterns matches artifacts that archive tools produce but no resume
// batch ever means: macOS resource forks, dotfiles, thumbnail caches.
var junkPatterns = []string{
	"**/__MACOSX/**",
	"**/.*",
	"**/Thumbs.db",
	"**/desktop.ini",
}

// extractArchives expands each downloaded object into destDir. Objects the
// archive library does not recognize are treated as bare files and moved
// into destDir under their original name; users do upload single resumes
// to the archive bucket.
func extractArchives(paths []string, destDir string, logger *slog.Logger) error {
	for _, path := range paths {
		if err := archiver.Unarchive(path, destDir); err != nil {
			logger.Debug("Not an archive, keeping as bare file",
				"path", path,
				"error", err)
			name := stripIndexPrefix(filepath.Base(path))
			target := filepath.Join(destDir, name)
			if _, statErr := os.Stat(target); statErr == nil {
				// Two bare files with the same name: keep the unique
				// downloaded name for the second.
				target = filepath.Join(destDir, filepath.Base(path))
			}
			if err := os.Rename(path, target); err != nil {
				return fmt.Errorf("move bare file %s: %w", name, err)
			}
		}
	}
	return nil
}

// stripIndexPrefix undoes the "{index}-" disambiguation applied to
// downloaded object names, recovering the original filename for the
// published records.
func stripIndexPrefix(name string) string {
	i := 0
	for i < len(name) && name[i] >= '0' && name[i] <= '9' {
		i++
	}
	if i > 0 && i < len(name) && name[i] == '-' {
		return name[i+1:]
	}
	return name
}

// enumerateFiles walks the extraction tree and returns every regular,
// non-junk, non-empty file, sorted by path for deterministic record order.
func enumerateFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if isJunk(filepath.ToSlash(rel)) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 {
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate extracted files: %w", err)
	}
	// WalkDir visits lexically, but be explicit about the ordering the
	// published record order depends on.
	sort.Strings(files)
	return files, nil
}

func isJunk(relPath string) bool {
	for _, pattern := range junkPatterns {
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			return true
		}
	}
	// doublestar's "**/.*" does not match a top-level dotfile.
	if strings.HasPrefix(filepath.Base(relPath), ".") {
		return true
	}
	return false
}
