package fetch

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
)

var zipMagic = []byte("PK\x03\x04")

// maxMemberSize bounds a decompressed member.
const maxMemberSize = 2 << 30

// Extract returns the delimited text inside p. Zip archives yield their
// largest .txt or .csv member; anything else is returned unchanged.
func Extract(p Payload) ([]byte, error) {
	if !bytes.HasPrefix(p.Body, zipMagic) {
		return p.Body, nil
	}
	zr, err := zip.NewReader(bytes.NewReader(p.Body), int64(len(p.Body)))
	if err != nil {
		return nil, fmt.Errorf("fetch: open archive %s %d: %w", p.Category, p.Year, err)
	}

	var best *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".txt", ".csv":
		default:
			continue
		}
		if best == nil || f.UncompressedSize64 > best.UncompressedSize64 {
			best = f
		}
	}
	if best == nil {
		return nil, fmt.Errorf("fetch: archive %s %d has no .txt or .csv member", p.Category, p.Year)
	}

	rc, err := best.Open()
	if err != nil {
		return nil, fmt.Errorf("fetch: open member %s: %w", best.Name, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(io.LimitReader(rc, maxMemberSize+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read member %s: %w", best.Name, err)
	}
	if len(b) > maxMemberSize {
		return nil, fmt.Errorf("fetch: member %s exceeds %d bytes", best.Name, maxMemberSize)
	}
	return b, nil
}
