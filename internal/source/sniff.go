package source

import (
	"bytes"
	"os"
	"path/filepath"
)

const (
	ownershipDir = "Digital.Content.Ownership"
	sniffLen     = 500
)

// DetectFormat identifies a single-file export from its leading bytes
func DetectFormat(data []byte) Format {
	if bytes.HasPrefix(data, []byte("bplist")) {
		return FormatWebArchive
	}

	head := data[:min(len(data), sniffLen)]
	if bytes.Contains(head, []byte("MIME-Version:")) || bytes.Contains(head, []byte("multipart/related")) {
		return FormatMHTML
	}
	return FormatHTML
}

func isAmazonExport(path string) bool {
	info, err := os.Stat(filepath.Join(path, ownershipDir))
	return err == nil && info.IsDir()
}
