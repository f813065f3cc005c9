// Package files implements a read-only file surfer. It lists directories,
// pages through text files and finds files by glob pattern, all confined
// to a root directory and an allow-list.
package files

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/transcript"
	"github.com/Iron-Ham/relay/internal/worker"
)

// ID is the file surfer's registered identity.
const ID = "File Surfer Agent"

const description = "Reads local files and directories. Mention a path to open it " +
	`("page 2" for later pages), a directory to list it, or a glob such as "**/*.go" to find files.`

const (
	// DefaultViewportBytes is the page size used when reading files.
	DefaultViewportBytes = 5 * 1024
	// maxFindResults bounds glob search output.
	maxFindResults = 200
)

var pageRe = regexp.MustCompile(`(?i)\bpage\s+(\d+)\b`)

// Surfer is the read-only file worker.
type Surfer struct {
	fs       afero.Fs
	allow    []glob.Glob
	viewport int
	logger   *logging.Logger
}

var _ worker.Worker = (*Surfer)(nil)

// Option configures a Surfer.
type Option func(*Surfer)

// WithViewport sets the page size in bytes.
func WithViewport(n int) Option {
	return func(s *Surfer) {
		if n > 0 {
			s.viewport = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Surfer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Surfer over fsys. Paths are resolved against the root of
// fsys. When allow is non-empty, only files matching one of its patterns
// (relative to the root, "/"-separated) can be read.
func New(fsys afero.Fs, allow []string, opts ...Option) (*Surfer, error) {
	s := &Surfer{
		fs:       afero.NewReadOnlyFs(fsys),
		viewport: DefaultViewportBytes,
		logger:   logging.NopLogger(),
	}
	for _, pattern := range allow {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.NewValidationError("invalid allow pattern: " + err.Error()).
				WithField("allow").WithValue(pattern)
		}
		s.allow = append(s.allow, g)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithWorker(ID)
	return s, nil
}

// NewFromConfig creates a Surfer rooted at cfg.Root, or at the working
// directory when Root is empty.
func NewFromConfig(cfg config.FilesConfig, workDir string, logger *logging.Logger) (*Surfer, error) {
	root := cfg.Root
	if root == "" {
		root = workDir
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), root), cfg.Allow,
		WithViewport(cfg.ViewportBytes), WithLogger(logger))
}

// ID implements worker.Worker.
func (s *Surfer) ID() string { return ID }

// Description implements worker.Worker.
func (s *Surfer) Description() string { return description }

// Execute implements worker.Worker.
func (s *Surfer) Execute(ctx context.Context, req worker.Request) (worker.Result, error) {
	if err := ctx.Err(); err != nil {
		return worker.Result{}, err
	}

	page := 1
	if m := pageRe.FindStringSubmatch(req.Instruction); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			page = n
		}
	}

	var (
		output string
		steps  []string
		err    error
	)
	target, kind := s.resolve(req.Instruction)
	switch kind {
	case targetFile:
		steps = append(steps, fmt.Sprintf("Opened %s", target))
		output, err = s.view(target, page)
	case targetDir:
		steps = append(steps, fmt.Sprintf("Listed %s", target))
		output, err = s.list(target)
	case targetGlob:
		steps = append(steps, fmt.Sprintf("Searched for %s", target))
		output, err = s.find(ctx, target)
	default:
		steps = append(steps, "No path found in instruction, listed root")
		output, err = s.list("/")
	}
	if err != nil {
		s.logger.Info("file request failed", "target", target, "error", err.Error())
		return worker.Result{Success: false, Output: err.Error(), Steps: steps}, nil
	}

	return worker.Result{
		Success:  true,
		Output:   output,
		Steps:    steps,
		Messages: []transcript.Message{transcript.Assistant(ID, output)},
	}, nil
}

type targetKind int

const (
	targetNone targetKind = iota
	targetFile
	targetDir
	targetGlob
)

// resolve picks the first token of instruction that names an existing
// path, or failing that the first glob pattern.
func (s *Surfer) resolve(instruction string) (string, targetKind) {
	var pattern string
	for _, tok := range strings.Fields(instruction) {
		tok = strings.Trim(tok, "`'\"()[],;:")
		tok = strings.TrimSuffix(tok, ".")
		if tok == "" {
			continue
		}
		p := clean(tok)
		if info, err := s.fs.Stat(p); err == nil {
			if info.IsDir() {
				return p, targetDir
			}
			return p, targetFile
		}
		if pattern == "" && strings.ContainsAny(tok, "*{") {
			pattern = strings.TrimPrefix(path.Clean(tok), "/")
		}
	}
	if pattern != "" {
		return pattern, targetGlob
	}
	return "", targetNone
}

func (s *Surfer) allowed(p string) bool {
	if len(s.allow) == 0 {
		return true
	}
	rel := strings.TrimPrefix(p, "/")
	for _, g := range s.allow {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func (s *Surfer) view(p string, page int) (string, error) {
	if !s.allowed(p) {
		return "", fmt.Errorf("access to %s is not allowed", p)
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not a text file", p)
	}

	pages := paginate(string(data), s.viewport)
	if page > len(pages) {
		return "", fmt.Errorf("%s has %d pages, page %d requested", p, len(pages), page)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Path: %s\n", p)
	fmt.Fprintf(&b, "Viewport position: Showing page %d of %d.\n", page, len(pages))
	b.WriteString("=======================\n")
	b.WriteString(pages[page-1])
	return b.String(), nil
}

func (s *Surfer) list(dir string) (string, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", dir, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Index of %s\n", dir)
	b.WriteString("=======================\n")
	shown := 0
	for _, e := range entries {
		full := path.Join(dir, e.Name())
		switch {
		case e.IsDir():
			fmt.Fprintf(&b, "%s/\n", e.Name())
		case s.allowed(full):
			fmt.Fprintf(&b, "%s (%d bytes)\n", e.Name(), e.Size())
		default:
			continue
		}
		shown++
	}
	if shown == 0 {
		b.WriteString("(empty)\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *Surfer) find(ctx context.Context, pattern string) (string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return "", fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	var matches []string
	walkErr := afero.Walk(s.fs, "/", func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(path.Clean("/"+p), "/")
		if g.Match(rel) && s.allowed(rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}

	sort.Strings(matches)
	if len(matches) == 0 {
		return fmt.Sprintf("No files match %s", pattern), nil
	}
	truncated := len(matches) > maxFindResults
	if truncated {
		matches = matches[:maxFindResults]
	}
	out := fmt.Sprintf("Files matching %s:\n%s", pattern, strings.Join(matches, "\n"))
	if truncated {
		out += fmt.Sprintf("\n(first %d matches shown)", maxFindResults)
	}
	return out, nil
}

// paginate splits text into pages of at most size bytes without cutting
// a rune. An empty text has one empty page.
func paginate(text string, size int) []string {
	if text == "" {
		return []string{""}
	}
	var pages []string
	for len(text) > 0 {
		n := size
		if n >= len(text) {
			pages = append(pages, text)
			break
		}
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		if n == 0 {
			_, n = utf8.DecodeRuneInString(text)
		}
		pages = append(pages, text[:n])
		text = text[n:]
	}
	return pages
}

func clean(p string) string {
	return path.Clean("/" + p)
}
