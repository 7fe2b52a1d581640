package docx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTree_RoundTrip(t *testing.T) {
	src := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<w:document xmlns:w="urn:w" xmlns:a="urn:a"><!-- note --><w:body><w:p><w:r><w:t xml:space="preserve"> a &amp; b </w:t></w:r><a:t>shape</a:t><w:instrText>PAGE</w:instrText></w:p><w:sectPr/></w:body></w:document>`

	tree, err := ParseTree([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, src, string(tree.Serialize()))
}

func TestTree_TextNodesAndNavigation(t *testing.T) {
	src := `<w:document xmlns:w="urn:w" xmlns:a="urn:a"><w:body><w:p><w:r><w:t>one</w:t></w:r><w:r><w:instrText>skip</w:instrText></w:r><w:r><a:t>two</a:t></w:r></w:p></w:body></w:document>`
	tree, err := ParseTree([]byte(src))
	require.NoError(t, err)

	var texts []string
	for _, idx := range tree.TextNodes() {
		texts = append(texts, tree.Nodes[idx].Data)
	}
	assert.Equal(t, []string{"one", "two"}, texts)

	root := tree.Root()
	require.NotEqual(t, -1, root)
	body := tree.Child(root, "body")
	require.NotEqual(t, -1, body)
	assert.Len(t, tree.Find(body, "r"), 3)
	assert.Equal(t, "oneskiptwo", tree.Text(body))
}

func TestTree_SetTextEscapes(t *testing.T) {
	tree, err := ParseTree([]byte(`<root a="x&quot;y"><t>old</t></root>`))
	require.NoError(t, err)

	idx := tree.TextNodes()[0]
	tree.SetText(idx, `<new & "improved">`)
	assert.Equal(t, `<root a="x&quot;y"><t>&lt;new &amp; "improved"&gt;</t></root>`, string(tree.Serialize()))
}

func TestTree_SerializeReplacesIllegalChars(t *testing.T) {
	tree, err := ParseTree([]byte(`<root a="v"><t>old</t></root>`))
	require.NoError(t, err)

	tree.SetText(tree.TextNodes()[0], "a\x00b\x0cc\td")
	out := tree.Serialize()
	assert.Equal(t, "<root a=\"v\"><t>a\ufffdb\ufffdc\td</t></root>", string(out))

	_, err = ParseTree(out)
	assert.NoError(t, err)
}

func TestParseTree_Errors(t *testing.T) {
	tests := []string{
		``,
		`<a><b></a>`,
		`<a>`,
		`<a/><b/>`,
	}
	for _, src := range tests {
		_, err := ParseTree([]byte(src))
		assert.Error(t, err, "input %q", src)
	}
}
