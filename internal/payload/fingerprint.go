package payload

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/blake3"
)

// Fingerprint describes the local content of a unit at the start of a run,
// so a log line can be matched against what a satellite received.
type Fingerprint struct {
	Files  int
	Bytes  int64
	Digest string
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%d file(s), %s, blake3:%s", f.Files, humanize.Bytes(uint64(f.Bytes)), f.Digest)
}

// Fingerprinted walks the unit's source in lexical order and hashes each
// relative path followed by the file content.
func Fingerprinted(u Unit) (Fingerprint, error) {
	h := blake3.New()
	var fp Fingerprint

	root := u.LocalPath
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			rel = filepath.Base(p)
		}
		_, _ = io.WriteString(h, filepath.ToSlash(rel))
		_, _ = h.Write([]byte{0})

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		n, err := io.Copy(h, f)
		f.Close()
		if err != nil {
			return err
		}
		fp.Files++
		fp.Bytes += n
		return nil
	})
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint %s: %w", u, err)
	}

	sum := h.Sum(nil)
	fp.Digest = hex.EncodeToString(sum[:8])
	return fp, nil
}
