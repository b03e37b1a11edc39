package pack

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/cemconv/cemrelease/iox"
)

// Entry is one file placed in an archive.
type Entry struct {
	// Name is the path inside the archive (slash separated).
	Name string
	// Source is the file on disk.
	Source string
	// Mode is the normalized permission bits (0755 or 0644).
	Mode fs.FileMode
}

// zipEpoch is the earliest time a zip DOS timestamp can hold.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// SourceDateEpoch returns the reproducible-build timestamp.
// It honors SOURCE_DATE_EPOCH and falls back to the Unix epoch.
func SourceDateEpoch() (time.Time, error) {
	v := strings.TrimSpace(os.Getenv("SOURCE_DATE_EPOCH"))
	if v == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid SOURCE_DATE_EPOCH %q: %w", v, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

func sortEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WriteTarGz writes entries as a gzip-compressed tar stream.
// Output is byte-stable for identical inputs and mtime: entries are sorted,
// ownership is zeroed, and the gzip header carries no name or time.
func WriteTarGz(w io.Writer, entries []Entry, mtime time.Time) error {
	gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return err
	}
	gz.ModTime = time.Time{}
	gz.Name = ""
	gz.OS = 255

	tw := tar.NewWriter(gz)
	for _, e := range sortEntries(entries) {
		if err := addTarEntry(tw, e, mtime); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addTarEntry(tw *tar.Writer, e Entry, mtime time.Time) error {
	f, err := os.Open(e.Source)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(f)

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", e.Source)
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.Name,
		Size:     info.Size(),
		Mode:     int64(e.Mode.Perm()),
		ModTime:  mtime,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar header %s: %w", e.Name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("tar write %s: %w", e.Name, err)
	}
	return nil
}

// WriteZip writes entries as a deflate-compressed zip archive.
// Timestamps before 1980 are clamped to the zip epoch.
func WriteZip(w io.Writer, entries []Entry, mtime time.Time) error {
	if mtime.Before(zipEpoch) {
		mtime = zipEpoch
	}

	zw := zip.NewWriter(w)
	for _, e := range sortEntries(entries) {
		if err := addZipEntry(zw, e, mtime); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addZipEntry(zw *zip.Writer, e Entry, mtime time.Time) error {
	f, err := os.Open(e.Source)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(f)

	hdr := &zip.FileHeader{
		Name:     e.Name,
		Method:   zip.Deflate,
		Modified: mtime,
	}
	hdr.SetMode(e.Mode.Perm())

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip header %s: %w", e.Name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("zip write %s: %w", e.Name, err)
	}
	return nil
}
