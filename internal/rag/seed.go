package rag

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxSeedFileSize caps a single seed document.
const maxSeedFileSize = 1 << 20

// LoadSeedDir reads .md and .txt files under dir and splits each on blank-line
// separated paragraphs. Each paragraph becomes one passage sourced from the file's
// path relative to dir.
func LoadSeedDir(dir string) ([]Passage, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking seed dir: %w", err)
	}
	sort.Strings(files)

	var out []Passage
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.Size() > maxSeedFileSize {
			return nil, fmt.Errorf("seed file %s exceeds %d bytes", path, maxSeedFileSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		rel = filepath.ToSlash(rel)

		for i, para := range paragraphs(string(data)) {
			out = append(out, Passage{
				ID:      fmt.Sprintf("%s#%d", rel, i),
				Content: para,
				Source:  rel,
			})
		}
	}
	return out, nil
}

func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			out = append(out, block)
		}
	}
	return out
}
