package archive

import "strings"

// Format is a compressed tar flavour, named by its file extension.
type Format string

// Supported formats.
const (
	FormatTarXz  Format = "tar.xz"
	FormatTarZst Format = "tar.zst"
	FormatTarGz  Format = "tar.gz"
	FormatTar    Format = "tar"
)

var formats = []Format{FormatTarXz, FormatTarZst, FormatTarGz, FormatTar}

// DetectFormat detects the archive format from the file extension.
// It returns the empty format for unknown extensions.
func DetectFormat(path string) Format {
	for _, f := range formats {
		if strings.HasSuffix(path, "."+string(f)) {
			return f
		}
	}
	return ""
}

// IsSupportedFormat returns true if the file has a supported archive extension.
func IsSupportedFormat(path string) bool {
	return DetectFormat(path) != ""
}

// TrimExt removes a supported archive extension from filename.
func TrimExt(filename string) string {
	if f := DetectFormat(filename); f != "" {
		return strings.TrimSuffix(filename, "."+string(f))
	}
	return filename
}
