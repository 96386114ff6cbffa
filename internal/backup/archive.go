package backup

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// maxEntrySize bounds a single extracted file.
const maxEntrySize = 2 << 30

// countingWriter tracks how many bytes passed through.
type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// writeArchive tars and gzips every regular file of dir under the entry
// prefix root/. It returns the SHA-256 of the compressed bytes and their size.
func writeArchive(dir, root string, w io.Writer) (checksum string, size int64, err error) {
	h := sha256.New()
	cw := &countingWriter{}
	gz := gzip.NewWriter(io.MultiWriter(w, h, cw))
	tw := tar.NewWriter(gz)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, err
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.Type().IsRegular() {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := addFile(tw, filepath.Join(dir, name), path.Join(root, name)); err != nil {
			return "", 0, err
		}
	}
	if err := tw.Close(); err != nil {
		return "", 0, err
	}
	if err := gz.Close(); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), cw.n, nil
}

func addFile(tw *tar.Writer, src, entry string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(st, "")
	if err != nil {
		return err
	}
	hdr.Name = entry
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// extractArchive unpacks a gzipped tar into dest. Entries that would land
// outside dest, links and special files are rejected.
func extractArchive(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	base := filepath.Clean(dest) + string(os.PathSeparator)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, base) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if hdr.Size > maxEntrySize {
				return fmt.Errorf("archive entry %q too large", hdr.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeEntry(target, tr, hdr.Size); err != nil {
				return err
			}
		default:
			return fmt.Errorf("archive entry %q has unsupported type %c", hdr.Name, hdr.Typeflag)
		}
	}
}

func writeEntry(target string, r io.Reader, size int64) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(f, r, size); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// scanResult is what a streaming pass over an archive learned.
type scanResult struct {
	checksum    string
	size        int64
	hasManifest bool
	readErr     error
}

// scanArchive hashes the whole stream and, without writing anything to
// disk, looks for the manifest entry. A damaged archive is reported in
// readErr; the checksum still covers every byte of r.
func scanArchive(r io.Reader) (scanResult, error) {
	h := sha256.New()
	cw := &countingWriter{}
	tee := io.TeeReader(r, io.MultiWriter(h, cw))

	var res scanResult
	res.readErr = findManifest(tee, &res.hasManifest)

	if _, err := io.Copy(io.Discard, tee); err != nil {
		return scanResult{}, err
	}
	res.checksum = hex.EncodeToString(h.Sum(nil))
	res.size = cw.n
	return res, nil
}

func findManifest(r io.Reader, found *bool) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if path.Base(hdr.Name) == manifestFile {
			*found = true
		}
	}
}

// locateManifest finds the directory holding the manifest inside an
// extracted archive: either dest itself or one folder below it.
func locateManifest(dest string) (string, error) {
	if _, err := os.Stat(filepath.Join(dest, manifestFile)); err == nil {
		return dest, nil
	}
	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", err
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		dir := filepath.Join(dest, ent.Name())
		if _, err := os.Stat(filepath.Join(dir, manifestFile)); err == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%s not found in backup", manifestFile)
}
