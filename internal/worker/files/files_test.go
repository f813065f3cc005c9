package files

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/worker"
)

func newFS(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fsys, name, []byte(content), 0o644))
	}
	return fsys
}

func execute(t *testing.T, s *Surfer, instruction string) worker.Result {
	t.Helper()
	res, err := s.Execute(context.Background(), worker.Request{Instruction: instruction})
	require.NoError(t, err)
	return res
}

func TestSurfer_OpenFile(t *testing.T) {
	s, err := New(newFS(t, map[string]string{"/notes/todo.txt": "buy milk"}), nil)
	require.NoError(t, err)

	res := execute(t, s, "Open `notes/todo.txt` and summarize it.")
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "Path: /notes/todo.txt")
	assert.Contains(t, res.Output, "Showing page 1 of 1.")
	assert.True(t, strings.HasSuffix(res.Output, "buy milk"))
	assert.Equal(t, []string{"Opened /notes/todo.txt"}, res.Steps)
	require.Len(t, res.Messages, 1)
}

func TestSurfer_Paging(t *testing.T) {
	content := strings.Repeat("a", 10) + strings.Repeat("b", 10) + "cc"
	s, err := New(newFS(t, map[string]string{"/big.txt": content}), nil, WithViewport(10))
	require.NoError(t, err)

	res := execute(t, s, "read big.txt page 2")
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "Showing page 2 of 3.")
	assert.True(t, strings.HasSuffix(res.Output, strings.Repeat("b", 10)))

	res = execute(t, s, "read big.txt page 4")
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "has 3 pages")
}

func TestSurfer_ListDirectory(t *testing.T) {
	s, err := New(newFS(t, map[string]string{
		"/src/main.go":    "package main",
		"/src/secret.env": "TOKEN=x",
		"/src/lib/a.go":   "package lib",
	}), []string{"**.go"})
	require.NoError(t, err)

	res := execute(t, s, "list src")
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "Index of /src")
	assert.Contains(t, res.Output, "main.go (12 bytes)")
	assert.Contains(t, res.Output, "lib/")
	assert.NotContains(t, res.Output, "secret.env", "disallowed files are hidden")
}

func TestSurfer_AllowList(t *testing.T) {
	s, err := New(newFS(t, map[string]string{
		"/docs/readme.md": "hello",
		"/.env":           "TOKEN=x",
	}), []string{"docs/*.md"})
	require.NoError(t, err)

	res := execute(t, s, "open docs/readme.md")
	assert.True(t, res.Success)

	res = execute(t, s, "open .env")
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "not allowed")
}

func TestSurfer_Find(t *testing.T) {
	s, err := New(newFS(t, map[string]string{
		"/cmd/relay/main.go":      "package main",
		"/internal/worker/w.go":   "package worker",
		"/internal/worker/w_test": "x",
		"/README.md":              "# relay",
	}), nil)
	require.NoError(t, err)

	res := execute(t, s, "find **/*.go")
	assert.True(t, res.Success)
	assert.Equal(t, "Files matching **/*.go:\ncmd/relay/main.go\ninternal/worker/w.go", res.Output)

	res = execute(t, s, "find *.rs")
	assert.True(t, res.Success)
	assert.Equal(t, "No files match *.rs", res.Output)
}

func TestSurfer_NoPathListsRoot(t *testing.T) {
	s, err := New(newFS(t, map[string]string{"/a.txt": "a"}), nil)
	require.NoError(t, err)

	res := execute(t, s, "what is available?")
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "Index of /")
	assert.Contains(t, res.Output, "a.txt")
}

func TestSurfer_BinaryFile(t *testing.T) {
	s, err := New(newFS(t, map[string]string{"/blob.bin": string([]byte{0xff, 0xfe, 0x00})}), nil)
	require.NoError(t, err)

	res := execute(t, s, "open blob.bin")
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "not a text file")
}

func TestSurfer_ReadOnly(t *testing.T) {
	fsys := newFS(t, nil)
	s, err := New(fsys, nil)
	require.NoError(t, err)
	assert.Error(t, afero.WriteFile(s.fs, "/x", []byte("x"), 0o644))
}

func TestSurfer_CanceledContext(t *testing.T) {
	s, err := New(newFS(t, nil), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Execute(ctx, worker.Request{Instruction: "list"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New(afero.NewMemMapFs(), []string{"[unclosed"})
	assert.Error(t, err)
}

func TestNewFromConfig_RootConfinement(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, afero.WriteFile(afero.NewOsFs(), root+"/in.txt", []byte("inside"), 0o644))

	s, err := NewFromConfig(config.FilesConfig{Root: root}, "", nil)
	require.NoError(t, err)

	res := execute(t, s, "open in.txt")
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "inside")

	res = execute(t, s, "open ../../../etc/passwd")
	assert.NotContains(t, res.Output, "root:")
	assert.Contains(t, res.Output, "Index of /")
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name string
		text string
		size int
		want []string
	}{
		{"empty", "", 4, []string{""}},
		{"exact", "abcd", 4, []string{"abcd"}},
		{"split", "abcdef", 4, []string{"abcd", "ef"}},
		{"rune boundary", "aé", 2, []string{"a", "é"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, paginate(tt.text, tt.size))
		})
	}
}
