// Package inbox finds documents waiting to be ingested, either in the
// workspace inbox directory or in a Cloud Storage prefix.
package inbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docledger/docledger/internal/model"
)

// Dir is the workspace subdirectory scanned for new documents.
const Dir = "inbox"

// ProcessedDir receives documents once their batch has run.
const ProcessedDir = "inbox/processed"

// extensions lists the file types the extractor can read.
var extensions = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// FileInfo describes a document in the inbox.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// Supported reports whether name has a document extension.
func Supported(name string) bool {
	_, ok := extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// MediaType returns the media type implied by the extension of name.
func MediaType(name string) string {
	return extensions[strings.ToLower(filepath.Ext(name))]
}

// Scan returns documents in <root>/inbox/, sorted by name.
func Scan(root string) ([]FileInfo, error) {
	dir := filepath.Join(root, Dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading inbox: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !Supported(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Load reads a document from disk.
func Load(path string) (model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	name := filepath.Base(path)
	return model.Document{Name: name, MediaType: MediaType(name), Data: data}, nil
}

// LoadAll reads every path, stopping at the first error.
func LoadAll(paths []string) ([]model.Document, error) {
	docs := make([]model.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := Load(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// MarkProcessed moves a file from inbox/ to inbox/processed/. An existing
// file of the same name is kept and the moved file gets a numeric suffix.
func MarkProcessed(root, fileName string) (string, error) {
	src := filepath.Join(root, Dir, fileName)
	dstDir := filepath.Join(root, ProcessedDir)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("creating processed dir: %w", err)
	}

	dst := filepath.Join(dstDir, fileName)
	ext := filepath.Ext(fileName)
	stem := strings.TrimSuffix(fileName, ext)
	for n := 1; ; n++ {
		_, err := os.Stat(dst)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("checking %s: %w", dst, err)
		}
		dst = filepath.Join(dstDir, fmt.Sprintf("%s-%d%s", stem, n, ext))
	}

	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return dst, nil
}
