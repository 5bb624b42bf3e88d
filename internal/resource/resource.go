// Package resource exposes a directory as the tree CloudMake entries live
// in. Directories list their entries, an .xml file has its root element as
// only child, and XML elements are addressed by appending {tag} segments:
// n1/conf.xml{config}{server}. Segments use the local element name, so
// <ns:server> is addressed as {server}.
package resource

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
)

var ErrMalformedXML = errors.New("malformed xml")

// FS is a resource tree over any fs.FS.
type FS struct {
	fsys fs.FS
}

func New(fsys fs.FS) *FS { return &FS{fsys: fsys} }

// SplitXML cuts path at its XML boundary: the first ".xml" that is followed
// by '{' or ends the path. ok is false for paths that do not address an XML
// file.
func SplitXML(path string) (file string, tags []string, ok bool) {
	for i := 0; ; {
		j := strings.Index(path[i:], ".xml")
		if j < 0 {
			return path, nil, false
		}
		end := i + j + len(".xml")
		if end == len(path) {
			return path, nil, true
		}
		if path[end] == '{' {
			tags, valid := splitTags(path[end:])
			if !valid {
				return path, nil, false
			}
			return path[:end], tags, true
		}
		i = end
	}
}

// splitTags parses "{a}{b}" into [a b].
func splitTags(s string) ([]string, bool) {
	var tags []string
	for s != "" {
		if s[0] != '{' {
			return nil, false
		}
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return nil, false
		}
		tag := s[1:end]
		if tag == "" || strings.ContainsAny(tag, "{/") {
			return nil, false
		}
		tags = append(tags, tag)
		s = s[end+1:]
	}
	return tags, true
}

func fsName(path string) string {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return "."
	}
	return path
}

func join(parent, child string) string {
	if parent == "" {
		return child
	}
	return strings.TrimSuffix(parent, "/") + "/" + child
}

// Children lists the direct children of path. Missing paths, plain files
// and symlinks have none.
func (r *FS) Children(path string) ([]string, error) {
	file, tags, isXML := SplitXML(path)
	if isXML && len(tags) > 0 {
		return r.elementChildren(path, file, tags)
	}

	name := fsName(path)
	if !fs.ValidPath(name) {
		return nil, nil
	}
	info, err := fs.Lstat(r.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		return nil, nil
	case info.IsDir():
		entries, err := fs.ReadDir(r.fsys, name)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, join(path, e.Name()))
		}
		return out, nil
	case isXML:
		doc, err := r.document(file)
		if err != nil || doc == nil {
			return nil, err
		}
		return []string{path + "{" + doc.Root().Tag + "}"}, nil
	}
	return nil, nil
}

func (r *FS) elementChildren(path, file string, tags []string) ([]string, error) {
	doc, err := r.document(file)
	if err != nil || doc == nil {
		return nil, err
	}
	var out []string
	seen := map[string]bool{}
	for _, el := range selectElements(doc, tags) {
		for _, c := range el.ChildElements() {
			tag := c.Tag
			if !seen[tag] {
				seen[tag] = true
				out = append(out, path+"{"+tag+"}")
			}
		}
	}
	return out, nil
}

// document loads an XML file. A missing file, a directory or a symlink
// yields a nil document and no error.
func (r *FS) document(file string) (*etree.Document, error) {
	if !fs.ValidPath(file) {
		return nil, nil
	}
	info, err := fs.Lstat(r.fsys, file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}

	b, err := fs.ReadFile(r.fsys, file)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedXML, file, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("%w: %s: no root element", ErrMalformedXML, file)
	}
	return doc, nil
}

// selectElements follows the tag chain from the root, keeping every element
// that matches at each level.
func selectElements(doc *etree.Document, tags []string) []*etree.Element {
	root := doc.Root()
	if root.Tag != tags[0] {
		return nil
	}
	cur := []*etree.Element{root}
	for _, tag := range tags[1:] {
		var next []*etree.Element
		for _, el := range cur {
			for _, c := range el.ChildElements() {
				if c.Tag == tag {
					next = append(next, c)
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		cur = next
	}
	return cur
}

// Digest returns the sha256 of an entry and whether it exists. Files hash
// their bytes, XML elements their serialized subtrees and directories their
// sorted listing.
func (r *FS) Digest(entry string) (string, bool, error) {
	file, tags, isXML := SplitXML(entry)
	if isXML && len(tags) > 0 {
		doc, err := r.document(file)
		if err != nil || doc == nil {
			return "", false, err
		}
		elems := selectElements(doc, tags)
		if len(elems) == 0 {
			return "", false, nil
		}
		out := etree.NewDocument()
		root := out.CreateElement("Root")
		for _, el := range elems {
			root.AddChild(el.Copy())
		}
		b, err := out.WriteToBytes()
		if err != nil {
			return "", false, err
		}
		return sum(b), true, nil
	}

	name := fsName(entry)
	if !fs.ValidPath(name) {
		return "", false, nil
	}
	info, err := fs.Lstat(r.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := fs.ReadLink(r.fsys, name)
		if err != nil {
			return "", false, err
		}
		return sum([]byte("symlink:" + target)), true, nil
	case info.IsDir():
		entries, err := fs.ReadDir(r.fsys, name)
		if err != nil {
			return "", false, err
		}
		var b strings.Builder
		for _, e := range entries {
			b.WriteString(e.Name())
			b.WriteByte('\n')
		}
		return sum([]byte(b.String())), true, nil
	}

	b, err := fs.ReadFile(r.fsys, name)
	if err != nil {
		return "", false, err
	}
	return sum(b), true, nil
}

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Local is a resource tree rooted at a directory on disk that can also be
// written to.
type Local struct {
	*FS
	root string
}

func Dir(root string) *Local {
	return &Local{FS: New(os.DirFS(root)), root: root}
}

func (l *Local) Root() string { return l.root }

// WriteFile replaces the file at entry, creating parent directories.
func (l *Local) WriteFile(entry string, data []byte) error {
	name := fsName(entry)
	if !fs.ValidPath(name) || name == "." {
		return fmt.Errorf("write %q: %w", entry, fs.ErrInvalid)
	}
	full := filepath.Join(l.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}
