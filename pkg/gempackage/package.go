// Package gempackage reads the RubyGems ".gem" package format (§4.H): a
// tar archive containing metadata.gz, data.tar.gz and an optional
// checksums.yaml.gz digest table. A pre-2007 gem's MD5SUM sidecar is
// rejected outright since MD5 is not a supported integrity algorithm.
// Layered on
// klauspost/compress/gzip rather than stdlib compress/gzip for the
// throughput win on large native-extension gems; archive/tar itself has
// no third-party replacement in the retrieved pack, so it stays stdlib.
package gempackage

import (
	"archive/tar"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	"github.com/spinel-coop/rv/pkg/rverrors"
)

// Algo identifies a supported checksum algorithm for verification.
type Algo string

const (
	SHA1   Algo = "sha1"
	SHA256 Algo = "sha256"
	SHA512 Algo = "sha512"
)

// ChecksumTable is the parsed contents of a gem's checksums.yaml.gz:
// algorithm name as RubyGems writes it ("SHA1", "SHA256", "SHA512") to
// top-level member name ("metadata.gz", "data.tar.gz") to hex digest.
type ChecksumTable map[string]map[string]string

// Reader streams the contents of a .gem package.
type Reader struct {
	tr        *tar.Reader
	f         *os.File
	checksums ChecksumTable
}

// Open opens the .gem file at path for streaming reads. Close must be
// called when done.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{tr: tar.NewReader(f), f: f}, nil
}

func (r *Reader) Close() error { return r.f.Close() }

// entryNames the outer tar may contain: metadata and data (in RubyGems'
// own package-writing order), the optional checksums table, and the
// legacy MD5SUM sidecar that is always rejected.
const (
	metadataEntry  = "metadata.gz"
	dataEntry      = "data.tar.gz"
	checksumsEntry = "checksums.yaml.gz"
	legacyMD5Entry = "MD5SUM"
)

// Metadata returns the decompressed metadata.gz bytes (the gemspec YAML
// document), consuming the reader up to and including that entry.
func (r *Reader) Metadata() ([]byte, error) {
	return r.readEntry(metadataEntry)
}

// Data streams the inner data.tar.gz as a *tar.Reader over the gem's
// installed file tree, without buffering the whole archive in memory.
func (r *Reader) Data() (*tar.Reader, error) {
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return nil, rverrors.UnsupportedGemFormat("gem package has no data.tar.gz entry")
		}
		if err != nil {
			return nil, err
		}
		if err := rejectLegacyMD5(hdr.Name); err != nil {
			return nil, err
		}
		if hdr.Name != dataEntry {
			continue
		}
		gz, err := gzip.NewReader(r.tr)
		if err != nil {
			return nil, err
		}
		return tar.NewReader(gz), nil
	}
}

func (r *Reader) readEntry(name string) ([]byte, error) {
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return nil, rverrors.UnsupportedGemFormat(fmt.Sprintf("gem package has no %s entry", name))
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name == legacyMD5Entry {
			return nil, rejectLegacyMD5(hdr.Name)
		}
		if hdr.Name != name {
			continue
		}
		gz, err := gzip.NewReader(r.tr)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return io.ReadAll(gz)
	}
}

// rejectLegacyMD5 enforces §4.H's hard requirement: a gem carrying only
// an MD5SUM sidecar predates RubyGems' SHA-based checksums.yaml.gz and
// is refused rather than installed with weakened integrity guarantees.
func rejectLegacyMD5(entryName string) error {
	if entryName == legacyMD5Entry {
		return rverrors.UnsupportedGemFormat("gem uses a pre-2007 MD5SUM checksum sidecar, which rv refuses to trust")
	}
	return nil
}

// newHash constructs the hash.Hash for algo, or UnsupportedGemFormat if
// algo isn't one of the three §4.H names.
func newHash(algo Algo) (hash.Hash, error) {
	switch algo {
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, rverrors.UnsupportedGemFormat(fmt.Sprintf("unsupported checksum algorithm %q", algo))
	}
}

// Verify computes the checksum of the .gem file at path using algo and
// compares it against expectedHex, returning a *rverrors.Error on
// mismatch. This is the whole-archive check §4.K step 2 runs against a
// lockfile's own CHECKSUMS entry, distinct from (*Reader).Verify's
// per-member check against the gem's own embedded checksums.yaml.gz.
func Verify(path string, algo Algo, expectedHex string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h, err := newHash(algo)
	if err != nil {
		return err
	}

	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	actual := fmt.Sprintf("%x", h.Sum(nil))
	if !strings.EqualFold(actual, expectedHex) {
		return rverrors.ChecksumMismatch(path, string(algo), expectedHex, actual)
	}
	return nil
}

// algoName maps a checksums.yaml.gz key ("SHA1", "SHA256", "SHA512") to
// the Algo constant newHash understands.
func algoName(key string) Algo {
	return Algo(strings.ToLower(key))
}

// resetScan rewinds the underlying file and rebuilds the primary tar
// reader, so a Checksums()/Verify() call that needs its own pass over
// the whole outer archive never leaves Metadata()/Data() looking at a
// half-consumed stream: whatever entry they read next, they read from
// the top.
func (r *Reader) resetScan() error {
	if _, err := r.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r.tr = tar.NewReader(r.f)
	return nil
}

// Checksums returns the parsed checksums.yaml.gz table (§4.H), reading
// and caching it on first call. It rewinds the Reader's scan position
// (resetScan) both before and after, so it can be called at any point
// in a Metadata()/Data() call sequence without corrupting it.
func (r *Reader) Checksums() (ChecksumTable, error) {
	if r.checksums != nil {
		return r.checksums, nil
	}
	if err := r.resetScan(); err != nil {
		return nil, err
	}
	defer r.resetScan()

	tr := r.tr
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			// Not every gem carries a checksums.yaml.gz (very old or
			// hand-built ones don't); §4.H documents the table as
			// present, not mandatory, so a miss is "nothing to verify"
			// rather than an error.
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name == legacyMD5Entry {
			return nil, rejectLegacyMD5(hdr.Name)
		}
		if hdr.Name != checksumsEntry {
			continue
		}
		gz, err := gzip.NewReader(tr)
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(gz)
		gz.Close()
		if err != nil {
			return nil, err
		}
		var table ChecksumTable
		if err := yaml.Unmarshal(content, &table); err != nil {
			return nil, rverrors.UnsupportedGemFormat(fmt.Sprintf("checksums.yaml.gz is not valid YAML: %v", err))
		}
		r.checksums = table
		return table, nil
	}
}

// Verify implements §4.H's member-level check: it hashes each top-level
// member the checksums.yaml.gz table names (metadata.gz, data.tar.gz)
// against the raw (still gzip-compressed) bytes of that tar entry — the
// same bytes RubyGems itself hashed when it wrote the table — and
// returns a *rverrors.Error naming the first mismatch it finds. A gem
// with no checksums.yaml.gz entry at all (some very old or hand-built
// gems) is treated as nothing-to-verify rather than an error, since
// §4.H's checksum table is documented as present, not mandatory.
func (r *Reader) Verify() error {
	table, err := r.Checksums()
	if err != nil {
		return err
	}
	if table == nil {
		return nil
	}

	if err := r.resetScan(); err != nil {
		return err
	}
	defer r.resetScan()

	raw := make(map[string][]byte, 2)
	tr := r.tr
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if hdr.Name == legacyMD5Entry {
			return rejectLegacyMD5(hdr.Name)
		}
		if hdr.Name != metadataEntry && hdr.Name != dataEntry {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		raw[hdr.Name] = data
	}

	for algo, members := range table {
		h := algoName(algo)
		for member, expectedHex := range members {
			data, ok := raw[member]
			if !ok {
				continue
			}
			sum, err := newHash(h)
			if err != nil {
				return err
			}
			sum.Write(data)
			actual := fmt.Sprintf("%x", sum.Sum(nil))
			if !strings.EqualFold(actual, expectedHex) {
				return rverrors.ChecksumMismatch(member, algo, expectedHex, actual)
			}
		}
	}
	return nil
}
