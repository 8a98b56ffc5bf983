package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/poiesic/verbatim/core"
)

// DefaultMaxFileSize is the largest file Load accepts, in bytes.
const DefaultMaxFileSize int64 = 10 << 20

var (
	// ErrFileTooLarge is returned when a file exceeds the loader's size limit.
	ErrFileTooLarge = errors.New("file exceeds size limit")

	// ErrUnsupportedFile is returned for files whose extension is not recognized.
	ErrUnsupportedFile = errors.New("unsupported file type")
)

// FileType classifies a file by how its text is extracted.
type FileType string

const (
	TypeText     FileType = "text"
	TypeMarkdown FileType = "markdown"
	TypeCode     FileType = "code"
	TypeJSON     FileType = "json"
	TypePDF      FileType = "pdf"
)

// SupportedExtensions maps lower-case file extensions to their type.
var SupportedExtensions = map[string]FileType{
	".txt":      TypeText,
	".csv":      TypeText,
	".log":      TypeText,
	".conf":     TypeText,
	".cfg":      TypeText,
	".md":       TypeMarkdown,
	".markdown": TypeMarkdown,
	".py":       TypeCode,
	".js":       TypeCode,
	".java":     TypeCode,
	".cpp":      TypeCode,
	".c":        TypeCode,
	".h":        TypeCode,
	".css":      TypeCode,
	".html":     TypeCode,
	".xml":      TypeCode,
	".yml":      TypeCode,
	".yaml":     TypeCode,
	".sql":      TypeCode,
	".sh":       TypeCode,
	".bat":      TypeCode,
	".json":     TypeJSON,
	".pdf":      TypePDF,
}

// TypeOf returns the file type for path and whether it is supported.
func TypeOf(path string) (FileType, bool) {
	t, ok := SupportedExtensions[strings.ToLower(filepath.Ext(path))]
	return t, ok
}

// DocumentID returns the stable document ID for a file path.
func DocumentID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String()
}

// Loader reads supported files into documents.
type Loader struct {
	maxFileSize int64
	logger      *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithMaxFileSize sets the size limit in bytes. Non-positive values keep
// the default.
func WithMaxFileSize(size int64) Option {
	return func(l *Loader) {
		if size > 0 {
			l.maxFileSize = size
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxFileSize returns the configured size limit.
func (l *Loader) MaxFileSize() int64 {
	return l.maxFileSize
}

// Discover returns the supported files under path in lexical order. A path
// naming a single file must itself be supported.
func (l *Loader) Discover(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIO, err)
	}

	if !info.IsDir() {
		if _, ok := TypeOf(path); !ok {
			return nil, fmt.Errorf("%w: %w: %s", core.ErrValidation, ErrUnsupportedFile, path)
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := TypeOf(p); ok {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %w", core.ErrIO, path, err)
	}

	slices.Sort(files)
	l.logger.Info("discovered files", "path", path, "count", len(files))
	return files, nil
}

// Load reads a file into a document. Files over the size limit fail with
// ErrFileTooLarge and files with no text content fail with core.ErrEmptyContent.
func (l *Loader) Load(path string) (*core.Document, error) {
	fileType, ok := TypeOf(path)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", core.ErrValidation, ErrUnsupportedFile, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIO, err)
	}
	if info.Size() > l.maxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, info.Size(), l.maxFileSize)
	}

	var text string
	switch fileType {
	case TypePDF:
		text, err = readPDF(path)
	default:
		var data []byte
		data, err = os.ReadFile(path)
		if err == nil {
			text = strings.ToValidUTF8(string(data), "\uFFFD")
			if fileType == TypeMarkdown {
				text = flattenMarkdown([]byte(text))
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", core.ErrIO, path, err)
	}
	text = normalizeNewlines(text)

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s", core.ErrEmptyContent, path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	l.logger.Debug("loaded file", "path", abs, "type", fileType, "bytes", len(text))
	return &core.Document{
		ID:     DocumentID(abs),
		Source: abs,
		Text:   text,
	}, nil
}

var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// normalizeNewlines rewrites CRLF and lone CR line endings to LF.
func normalizeNewlines(text string) string {
	if !strings.Contains(text, "\r") {
		return text
	}
	return newlineReplacer.Replace(text)
}
