// Package docx reads and patches zip-packaged WordprocessingML documents.
package docx

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	docerrors "github.com/a3tai/mcp-docfill/internal/docfill/errors"
)

const (
	// MainPartName is the main document-body part of a .docx package
	MainPartName = "word/document.xml"
	// DocumentRelsPartName holds the relationships of the main part
	DocumentRelsPartName = "word/_rels/document.xml.rels"
)

// Package is an opened .docx zip container. Only the main part is decoded;
// every other part is carried through untouched.
type Package struct {
	reader *zip.Reader
	main   *zip.File
}

// OpenPackage opens data as a zip container and locates the main part.
// A missing main part or an unreadable container is an InvalidTemplate error.
func OpenPackage(data []byte) (*Package, error) {
	if len(data) == 0 {
		return nil, docerrors.New(docerrors.ErrorTypeInvalidTemplate, "template is empty")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeInvalidTemplate, fmt.Errorf("open zip container: %w", err))
	}

	p := &Package{reader: zr}
	for _, f := range zr.File {
		if normalizeZipName(f.Name) == MainPartName {
			p.main = f
			break
		}
	}
	if p.main == nil {
		return nil, docerrors.New(docerrors.ErrorTypeInvalidTemplate, "missing main document part").
			WithContext(MainPartName)
	}
	return p, nil
}

// MainPart returns the decompressed main document XML
func (p *Package) MainPart() ([]byte, error) {
	return readZipFile(p.main)
}

// Part returns the decompressed content of a named part
func (p *Package) Part(name string) ([]byte, bool, error) {
	name = normalizeZipName(name)
	for _, f := range p.reader.File {
		if normalizeZipName(f.Name) == name {
			data, err := readZipFile(f)
			return data, true, err
		}
	}
	return nil, false, nil
}

// PartNames lists the parts in container order
func (p *Package) PartNames() []string {
	names := make([]string, 0, len(p.reader.File))
	for _, f := range p.reader.File {
		names = append(names, normalizeZipName(f.Name))
	}
	return names
}

// Rewrite produces a new container where the main part is replaced by
// mainXML and every other part is copied as raw compressed bytes.
func (p *Package) Rewrite(mainXML []byte) ([]byte, error) {
	var out bytes.Buffer
	zw := zip.NewWriter(&out)

	for _, f := range p.reader.File {
		if f == p.main {
			header := f.FileHeader
			header.Name = normalizeZipName(f.Name)
			w, err := zw.CreateHeader(&header)
			if err != nil {
				return nil, fmt.Errorf("create %s: %w", header.Name, err)
			}
			if _, err := w.Write(mainXML); err != nil {
				return nil, fmt.Errorf("write %s: %w", header.Name, err)
			}
			continue
		}
		if err := copyRaw(zw, f); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip container: %w", err)
	}
	return out.Bytes(), nil
}

// RelationshipTarget resolves a relationship id of the main part to a part
// name inside the package, e.g. rId5 -> word/media/image1.png
func (p *Package) RelationshipTarget(id string) (string, bool, error) {
	rels, ok, err := p.Part(DocumentRelsPartName)
	if err != nil || !ok {
		return "", false, err
	}
	tree, err := ParseTree(rels)
	if err != nil {
		return "", false, err
	}
	for _, rel := range tree.Find(0, "Relationship") {
		if rid, _ := tree.AttrValue(rel, "Id"); rid != id {
			continue
		}
		if mode, _ := tree.AttrValue(rel, "TargetMode"); strings.EqualFold(mode, "External") {
			return "", false, nil
		}
		target, _ := tree.AttrValue(rel, "Target")
		if strings.HasPrefix(target, "/") {
			return strings.TrimPrefix(target, "/"), true, nil
		}
		return path.Clean(path.Join("word", target)), true, nil
	}
	return "", false, nil
}

func copyRaw(zw *zip.Writer, f *zip.File) error {
	header := f.FileHeader
	w, err := zw.CreateRaw(&header)
	if err != nil {
		return fmt.Errorf("create %s: %w", f.Name, err)
	}
	rc, err := f.OpenRaw()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("copy %s: %w", f.Name, err)
	}
	return nil
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

func normalizeZipName(name string) string {
	return strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "/")
}
