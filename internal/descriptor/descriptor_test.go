package descriptor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const composed = `description:
  - text: "fix "
  - command: ["echo", "bug"]
project:
  - text: work
tags:
  - text: code
  - command: ["git", "rev-parse", "--abbrev-ref", "HEAD"]
    regex: "[A-Z]+-[0-9]+"
`

func TestParse_Composed(t *testing.T) {
	d, err := Parse([]byte(composed))
	require.NoError(t, err)

	assert.False(t, d.HasID())
	require.Len(t, d.Description, 2)
	assert.Equal(t, "fix ", *d.Description[0].Text)
	assert.False(t, d.Description[0].IsCommand())
	assert.Equal(t, []string{"echo", "bug"}, d.Description[1].Command)
	require.Len(t, d.Project, 1)
	require.Len(t, d.Tags, 2)
	assert.Equal(t, "[A-Z]+-[0-9]+", d.Tags[1].Regex)
}

func TestParse_ID(t *testing.T) {
	d, err := Parse([]byte("id: 11111111-2222-3333-4444-555555555555\n"))
	require.NoError(t, err)
	assert.True(t, d.HasID())
	assert.Empty(t, d.Description)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "   \n", "empty"},
		{"comment only", "# nothing here\n", "empty"},
		{"not yaml", "description: [\n", "invalid yaml"},
		{"scalar root", "just text\n", "mapping"},
		{"missing both", "project:\n  - text: x\n", "needs an id"},
		{"description not a sequence", "description:\n  text: x\n", "description must be a sequence"},
		{"tags scalar", "id: 11111111-2222-3333-4444-555555555555\ntags: code\n", "tags must be a sequence"},
		{"unknown key", "id: 11111111-2222-3333-4444-555555555555\nname: x\n", "unknown key"},
		{"bad uuid", "id: 12\n", "not a uuid"},
		{"text and command", "description:\n  - text: a\n    command: [echo]\n", "both text and command"},
		{"neither", "description:\n  - regex: x\n", "needs text or command"},
		{"regex on text", "description:\n  - text: a\n    regex: b\n", "regex only applies"},
		{"bad regex", "description:\n  - command: [echo]\n    regex: \"(\"\n", "bad regex"},
		{"empty command name", "description:\n  - command: [\"\"]\n", "command name is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_ErrorNamesFragment(t *testing.T) {
	_, err := Parse([]byte("description:\n  - text: ok\n  - regex: x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "description[1]")
}

func TestFragmentBuilders(t *testing.T) {
	tf := TextFragment("a")
	assert.Equal(t, "a", *tf.Text)
	assert.NoError(t, tf.validate())

	cf := CommandFragment(`\d+`, "echo", "1")
	assert.True(t, cf.IsCommand())
	assert.NoError(t, cf.validate())
}

func writeDescriptor(t *testing.T, dir, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFind_InStartDir(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, composed)

	found, err := Find(root)
	require.NoError(t, err)

	want, _ := Canonical(root)
	assert.Equal(t, want, found.Dir)
	assert.Equal(t, filepath.Join(want, FileName), found.Path)
	assert.Len(t, found.Fingerprint, 64)
	assert.Len(t, found.Descriptor.Description, 2)
}

func TestFind_WalksUp(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, composed)
	deep := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	found, err := Find(deep)
	require.NoError(t, err)

	want, _ := Canonical(root)
	assert.Equal(t, want, found.Dir)
}

func TestFind_NearestWins(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, composed)
	inner := filepath.Join(root, "inner")
	writeDescriptor(t, inner, "id: 11111111-2222-3333-4444-555555555555\n")

	found, err := Find(filepath.Join(inner))
	require.NoError(t, err)
	assert.True(t, found.Descriptor.HasID())
}

func TestFind_NotFound(t *testing.T) {
	// The temp dir's ancestors are assumed to carry no descriptor.
	dir := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, err := Find(dir)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFind_ParseErrorIsDistinct(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "")

	_, err := Find(root)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Path, FileName)
}

func TestFind_SymlinkedStart(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, composed)
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(root, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	found, err := Find(link)
	require.NoError(t, err)
	want, _ := Canonical(root)
	assert.Equal(t, want, found.Dir)
}

func TestLoad_FingerprintChangesWithContent(t *testing.T) {
	root := t.TempDir()
	path := writeDescriptor(t, root, composed)

	first, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(composed+"\n# edited\n"), 0o644))
	second, err := Load(path)
	require.NoError(t, err)

	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), FileName))
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}
