package loader

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/platform/logger"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func writeDOCX(t *testing.T, name string, parts map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for partName, body := range parts {
		w, err := zw.Create(partName)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

const sampleDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Refund policy</w:t></w:r></w:p>
    <w:p><w:r><w:t xml:space="preserve">Refunds are issued </w:t></w:r><w:r><w:t>within 30 days.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Item</w:t><w:tab/><w:t>Price</w:t></w:r></w:p>
  </w:body>
</w:document>`

func TestTextLoader_Load(t *testing.T) {
	path := writeFile(t, "notes.txt", append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello\nworld")...))

	docs, err := NewTextLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "hello\nworld", docs[0].Content)
	assert.Equal(t, "notes.txt", docs[0].SourceName)
	assert.True(t, docs[0].Page.IsAbsent())
}

func TestTextLoader_Load_Binary(t *testing.T) {
	path := writeFile(t, "blob.txt", []byte{'a', 0x00, 'b', 0x00})

	_, err := NewTextLoader().Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrBinaryContent)
	assert.ErrorIs(t, err, document.ErrUnreadableDocument)
}

func TestTextLoader_Load_InvalidUTF8(t *testing.T) {
	path := writeFile(t, "latin1.txt", []byte("caf\xe9 au lait"))

	_, err := NewTextLoader().Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrInvalidEncoding)
	assert.ErrorIs(t, err, document.ErrUnreadableDocument)
}

func TestTextLoader_Load_Empty(t *testing.T) {
	path := writeFile(t, "empty.txt", []byte("  \n"))

	docs, err := NewTextLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDOCXLoader_Load(t *testing.T) {
	path := writeDOCX(t, "policy.docx", map[string]string{
		"[Content_Types].xml": `<Types/>`,
		"word/document.xml":   sampleDocumentXML,
	})

	docs, err := NewDOCXLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Refund policy\nRefunds are issued within 30 days.\nItem\tPrice", docs[0].Content)
	assert.Equal(t, "policy.docx", docs[0].SourceName)
}

func TestDOCXLoader_Load_MissingBody(t *testing.T) {
	path := writeDOCX(t, "broken.docx", map[string]string{
		"ppt/slides/slide1.xml": `<p:sld/>`,
	})

	_, err := NewDOCXLoader().Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrInvalidDOCX)
}

func TestDOCXLoader_Load_NotZip(t *testing.T) {
	path := writeFile(t, "fake.docx", []byte("plain text"))

	_, err := NewDOCXLoader().Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrInvalidDOCX)
	assert.ErrorIs(t, err, document.ErrUnreadableDocument)
}

func TestPDFLoader_Load_Invalid(t *testing.T) {
	path := writeFile(t, "fake.pdf", []byte("not a pdf"))

	_, err := NewPDFLoader(logger.Discard()).Load(context.Background(), path)
	assert.Error(t, err)
}

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry(logger.Discard())

	assert.Equal(t, []string{".docx", ".pdf", ".txt"}, r.Extensions())

	path := writeFile(t, "README.TXT", []byte(strings.Repeat("word ", 10)))
	docs, err := r.Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	_, err = r.Load(context.Background(), writeFile(t, "image.png", []byte{0x89, 'P', 'N', 'G'}))
	assert.ErrorIs(t, err, document.ErrUnsupportedFileType)
}
