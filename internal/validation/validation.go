// Package validation provides path, filename and file type checks for
// user-supplied input: CLI arguments, pecha ids, and archive entries read
// while unpacking bundles.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// Limits on user-supplied names.
const (
	// MaxFileSize is the maximum size of a single file extracted from a bundle (256 MB).
	MaxFileSize = 256 << 20
	// MaxFilenameLength is the maximum allowed filename length.
	MaxFilenameLength = 255
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
)

// Common validation errors.
var (
	ErrPathTraversal   = errors.New("path traversal detected")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrPathTooLong     = errors.New("path too long")
	ErrFilenameTooLong = errors.New("filename too long")
	ErrEmptyPath       = errors.New("path cannot be empty")
	ErrInvalidID       = errors.New("invalid document id")
)

// documentID matches pecha, alignment and volume identifiers.
var documentID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// SanitizePath validates a relative path and ensures it does not escape
// baseDir. Returns the cleaned path relative to baseDir.
func SanitizePath(baseDir, userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}
	if len(userPath) > MaxPathLength {
		return "", ErrPathTooLong
	}

	cleanPath := filepath.Clean(filepath.FromSlash(userPath))

	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	if filepath.IsAbs(cleanPath) {
		return "", fmt.Errorf("%w: absolute path not allowed", ErrPathTraversal)
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(baseDir, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	relPath, err := filepath.Rel(absBase, absPath)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}

	return cleanPath, nil
}

// ValidateFilename rejects empty names, separators, control characters and
// names that could be confused with flags.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}
	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}
	for _, r := range filename {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
		}
	}
	if strings.HasPrefix(filename, "-") {
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}
	return nil
}

// ValidateID checks a pecha, alignment or volume identifier. Identifiers
// become path components and output file names.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxFilenameLength {
		return fmt.Errorf("%w: too long", ErrInvalidID)
	}
	if !documentID.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// FileType represents a validated file type.
type FileType string

const (
	FileTypeTarXZ   FileType = "tar.xz"
	FileTypeTarGZ   FileType = "tar.gz"
	FileTypeTarZst  FileType = "tar.zst"
	FileTypeTar     FileType = "tar"
	FileTypeGzip    FileType = "gzip"
	FileTypeXZ      FileType = "xz"
	FileTypeZstd    FileType = "zstd"
	FileTypeSQLite  FileType = "sqlite"
	FileTypeJSON    FileType = "json"
	FileTypeYAML    FileType = "yaml"
	FileTypeText    FileType = "text"
	FileTypeUnknown FileType = "unknown"
)

// magicBytes defines magic byte signatures for file type detection.
var magicBytes = []struct {
	fileType FileType
	magic    []byte
	offset   int
}{
	{FileTypeTar, []byte("ustar"), 257},
	{FileTypeGzip, []byte{0x1f, 0x8b}, 0},
	{FileTypeXZ, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}, 0},
	{FileTypeZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}, 0},
	{FileTypeSQLite, []byte("SQLite format 3"), 0},
}

// compressed maps a compressed tarball type onto its outer compression.
var compressed = map[FileType]FileType{
	FileTypeTarXZ:  FileTypeXZ,
	FileTypeTarGZ:  FileTypeGzip,
	FileTypeTarZst: FileTypeZstd,
}

// ValidateFileType checks that content read from reader matches the type
// implied by filename. Returns the detected type.
func ValidateFileType(reader io.Reader, filename string) (FileType, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(reader, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FileTypeUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	buf = buf[:n]

	detected := DetectFileType(buf)
	expected := FileTypeFromName(filename)

	if outer, ok := compressed[expected]; ok && detected == outer {
		return expected, nil
	}
	if detected == expected {
		return detected, nil
	}
	if detected == FileTypeUnknown {
		switch expected {
		case FileTypeJSON, FileTypeYAML, FileTypeText:
			if isLikelyText(buf) {
				return expected, nil
			}
			return FileTypeUnknown, fmt.Errorf("file type mismatch: %s does not look like text", filename)
		}
		return expected, nil
	}
	if expected != FileTypeUnknown {
		return FileTypeUnknown, fmt.Errorf("file type mismatch: extension suggests %s but content is %s", expected, detected)
	}
	return detected, nil
}

// DetectFileType detects a file type from leading magic bytes.
func DetectFileType(buf []byte) FileType {
	for _, sig := range magicBytes {
		if sig.offset+len(sig.magic) <= len(buf) && bytes.Equal(buf[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			return sig.fileType
		}
	}
	return FileTypeUnknown
}

// FileTypeFromName determines the expected file type from the extension.
func FileTypeFromName(filename string) FileType {
	lower := strings.ToLower(filename)

	switch {
	case strings.HasSuffix(lower, ".tar.xz"):
		return FileTypeTarXZ
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FileTypeTarGZ
	case strings.HasSuffix(lower, ".tar.zst"):
		return FileTypeTarZst
	}

	switch filepath.Ext(lower) {
	case ".tar":
		return FileTypeTar
	case ".xz":
		return FileTypeXZ
	case ".gz":
		return FileTypeGzip
	case ".zst":
		return FileTypeZstd
	case ".sqlite", ".db", ".sqlite3":
		return FileTypeSQLite
	case ".json":
		return FileTypeJSON
	case ".yml", ".yaml":
		return FileTypeYAML
	case ".txt", ".md":
		return FileTypeText
	default:
		return FileTypeUnknown
	}
}

// isLikelyText reports whether buf looks like UTF-8 text. Bytes >= 0x80
// are neutral so Tibetan text passes.
func isLikelyText(buf []byte) bool {
	if len(buf) == 0 {
		return true
	}
	if bytes.IndexByte(buf, 0) != -1 {
		return false
	}

	printable, control := 0, 0
	for _, b := range buf {
		switch {
		case b >= 0x20 && b <= 0x7e, b == '\t', b == '\n', b == '\r':
			printable++
		case b < 0x20:
			control++
		}
	}
	if printable+control == 0 {
		return true
	}
	return float64(printable)/float64(printable+control) > 0.95
}
