// Package localfiles provides the local document library: bucket listing
// over a billy filesystem and change signals via fsnotify. First-level
// directories of the library root are buckets; their files are documents.
package localfiles

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// Lister reads buckets and document names from a library filesystem.
// Production wires an osfs chroot at the library root; tests use memfs.
type Lister struct {
	fs   billy.Filesystem
	exts map[string]struct{}
}

// NewLister returns a lister recognizing the given file extensions,
// case-insensitive, defaulting to ".pdf" when none are given.
func NewLister(fs billy.Filesystem, extensions []string) *Lister {
	if len(extensions) == 0 {
		extensions = []string{".pdf"}
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return &Lister{fs: fs, exts: exts}
}

// FS returns the underlying filesystem, shared with the upload sink so
// listed paths stay openable.
func (l *Lister) FS() billy.Filesystem {
	return l.fs
}

// Buckets returns the bucket names, sorted. Hidden directories are
// skipped.
func (l *Lister) Buckets() ([]string, error) {
	entries, err := l.fs.ReadDir("/")
	if err != nil {
		return nil, fmt.Errorf("list library root: %w", err)
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// List returns the bucket's document file names, sorted. Hidden files,
// subdirectories and foreign extensions are skipped.
func (l *Lister) List(bucket string) ([]string, error) {
	entries, err := l.fs.ReadDir(l.fs.Join("/", bucket))
	if err != nil {
		return nil, fmt.Errorf("list bucket %s: %w", bucket, err)
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !l.recognized(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Path returns the absolute path of a document, rooted like the
// filesystem the lister reads from. Upload specs carry these paths.
func (l *Lister) Path(bucket, name string) string {
	return l.fs.Join(l.fs.Root(), bucket, name)
}

func (l *Lister) recognized(name string) bool {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return false
	}
	_, ok := l.exts[strings.ToLower(name[idx:])]
	return ok
}
