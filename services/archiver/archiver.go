package archiver

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

const (
	manifestFileName = "manifest.yaml"
	manifestVersion  = "1"
)

// BuildConfig configures archive creation.
type BuildConfig struct {
	MirrorDir string
	Output    string
	// Signer is optional; without it the manifest is left unsigned.
	Signer *Signer
	Now    func() time.Time
	Stdout io.Writer
}

// VerifyConfig configures archive verification.
type VerifyConfig struct {
	Path string
	// Signer, when set, must match the key that signed the manifest and an
	// unsigned manifest is rejected.
	Signer *Signer
	// ExtractDir restores the mirror layout there once every entry checks out.
	ExtractDir string
	Stdout     io.Writer
}

// Build packs a mirror directory into a zstd-compressed tar with a YAML
// manifest as its first member.
func Build(ctx context.Context, cfg BuildConfig) (*Manifest, error) {
	if cfg.MirrorDir == "" {
		return nil, errors.New("mirror directory is required")
	}
	if cfg.Output == "" {
		return nil, errors.New("output path is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(cfg.MirrorDir)
	if err != nil {
		return nil, fmt.Errorf("stat mirror dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mirror dir %q is not a directory", cfg.MirrorDir)
	}

	entries, err := collectEntries(ctx, cfg.MirrorDir)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("mirror directory is empty")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})

	manifest := &Manifest{
		Version:    manifestVersion,
		CreatedAt:  cfg.Now().UTC().Truncate(time.Second),
		LastScrape: readLastScrape(cfg.MirrorDir),
		Entries:    entries,
	}
	if cfg.Signer.CanSign() {
		manifest.Signer = cfg.Signer.Recipient()
		manifest.SigningPublicKey = cfg.Signer.PublicKeyBase64()
		payload, err := manifest.SigningBytes()
		if err != nil {
			return nil, fmt.Errorf("marshal manifest for signing: %w", err)
		}
		if manifest.Signature, err = cfg.Signer.Sign(payload); err != nil {
			return nil, fmt.Errorf("sign manifest: %w", err)
		}
	}

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeArchive(cfg.Output, manifestBytes, cfg.MirrorDir, entries); err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote archive %s (%d entries)\n", cfg.Output, len(entries))
	return manifest, nil
}

func collectEntries(ctx context.Context, root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path for %q: %w", p, err)
		}
		rel = filepath.ToSlash(rel)
		kind, ok := classify(rel)
		if !ok {
			return nil
		}

		size, sum, err := hashFile(p)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Path: rel, Kind: kind, Size: size, SHA256: sum})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// classify maps a mirror-relative path to its entry kind. Anything outside
// the mirror layout is ignored.
func classify(rel string) (string, bool) {
	dir, name := path.Split(rel)
	switch {
	case rel == "state.json":
		return KindState, true
	case dir == "reports/" && strings.HasSuffix(name, ".json"):
		return KindReport, true
	case dir == "samples/":
		return KindSample, true
	default:
		return "", false
	}
}

func hashFile(p string) (int64, string, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, "", fmt.Errorf("open %q: %w", p, err)
	}
	defer f.Close()
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("hash %q: %w", p, err)
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}

func readLastScrape(dir string) string {
	raw, err := os.ReadFile(filepath.Join(dir, "state.json"))
	if err != nil {
		return ""
	}
	var st struct {
		LastScrape string `json:"last_scrape"`
	}
	if json.Unmarshal(raw, &st) != nil {
		return ""
	}
	return st.LastScrape
}

func writeArchive(output string, manifest []byte, root string, entries []Entry) (err error) {
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close output file: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(output)
		}
	}()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(encoder)

	if err := tw.WriteHeader(&tar.Header{
		Name:     manifestFileName,
		Mode:     0o644,
		Size:     int64(len(manifest)),
		ModTime:  time.Now().UTC(),
		Typeflag: tar.TypeReg,
	}); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	if _, err := tw.Write(manifest); err != nil {
		return fmt.Errorf("write manifest body: %w", err)
	}

	for _, entry := range entries {
		if err := appendFile(tw, root, entry); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return nil
}

func appendFile(tw *tar.Writer, root string, entry Entry) error {
	full := filepath.Join(root, filepath.FromSlash(entry.Path))
	f, err := os.Open(full)
	if err != nil {
		return fmt.Errorf("open %q: %w", entry.Path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %q: %w", entry.Path, err)
	}
	if info.Size() != entry.Size {
		return fmt.Errorf("%q changed while archiving", entry.Path)
	}

	if err := tw.WriteHeader(&tar.Header{
		Name:     entry.Path,
		Mode:     int64(info.Mode().Perm()),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Typeflag: tar.TypeReg,
	}); err != nil {
		return fmt.Errorf("write header for %q: %w", entry.Path, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copy %q: %w", entry.Path, err)
	}
	return nil
}

// Verify checks an archive's manifest signature and every member's size and
// hash, optionally restoring the mirror into ExtractDir.
func Verify(ctx context.Context, cfg VerifyConfig) (*Manifest, error) {
	if cfg.Path == "" {
		return nil, errors.New("archive file is required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	decoder, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	var staging string
	if cfg.ExtractDir != "" {
		if err := os.MkdirAll(cfg.ExtractDir, 0o755); err != nil {
			return nil, fmt.Errorf("create extract dir: %w", err)
		}
		if staging, err = os.MkdirTemp(cfg.ExtractDir, ".archive-*"); err != nil {
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
		defer os.RemoveAll(staging)
	}

	tr := tar.NewReader(decoder)
	var (
		manifest *Manifest
		seen     = map[string]Entry{}
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(header.Name)
		if name == manifestFileName {
			if manifest, err = readManifest(tr, cfg.Signer); err != nil {
				return nil, err
			}
			continue
		}
		if manifest == nil {
			return nil, fmt.Errorf("archive member %q precedes %s", name, manifestFileName)
		}
		if _, ok := classify(name); !ok {
			return nil, fmt.Errorf("unexpected archive member %q", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate archive member %q", name)
		}

		entry, err := consumeMember(tr, name, staging)
		if err != nil {
			return nil, err
		}
		seen[name] = entry
	}
	if manifest == nil {
		return nil, fmt.Errorf("archive missing %s", manifestFileName)
	}

	if err := compareEntries(manifest.Entries, seen); err != nil {
		return nil, err
	}

	if staging != "" {
		if err := promote(staging, cfg.ExtractDir, manifest.Entries); err != nil {
			return nil, err
		}
	}

	fmt.Fprintf(cfg.Stdout, "verified %d entries created at %s\n", len(manifest.Entries), manifest.CreatedAt.Format(time.RFC3339))
	return manifest, nil
}

func readManifest(r io.Reader, signer *Signer) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %q", m.Version)
	}

	if m.Signature == "" {
		if signer != nil {
			return nil, errors.New("manifest is not signed")
		}
		return &m, nil
	}
	payload, err := m.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if err := verifySignature(signer, payload, m.Signature, m.SigningPublicKey); err != nil {
		return nil, fmt.Errorf("verify manifest signature: %w", err)
	}
	return &m, nil
}

// consumeMember hashes a member and, when staging is set, writes it there.
func consumeMember(r io.Reader, name, staging string) (Entry, error) {
	h := sha256.New()
	w := io.Writer(h)

	var out *os.File
	if staging != "" {
		target := filepath.Join(staging, filepath.FromSlash(name))
		if !strings.HasPrefix(target, staging+string(filepath.Separator)) {
			return Entry{}, fmt.Errorf("invalid entry path %q", name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return Entry{}, fmt.Errorf("mkdir for %q: %w", name, err)
		}
		f, err := os.Create(target)
		if err != nil {
			return Entry{}, fmt.Errorf("create %q: %w", name, err)
		}
		out = f
		w = io.MultiWriter(h, f)
	}

	size, err := io.Copy(w, r)
	if out != nil {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read %q: %w", name, err)
	}
	return Entry{Path: name, Size: size, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

func compareEntries(want []Entry, got map[string]Entry) error {
	listed := make(map[string]bool, len(want))
	for _, e := range want {
		listed[e.Path] = true
		actual, ok := got[e.Path]
		if !ok {
			return fmt.Errorf("archive missing %q", e.Path)
		}
		if actual.Size != e.Size {
			return fmt.Errorf("%q: size %d, manifest says %d", e.Path, actual.Size, e.Size)
		}
		if actual.SHA256 != e.SHA256 {
			return fmt.Errorf("%q: sha256 %s, manifest says %s", e.Path, actual.SHA256, e.SHA256)
		}
	}
	for p := range got {
		if !listed[p] {
			return fmt.Errorf("archive member %q not listed in manifest", p)
		}
	}
	return nil
}

func promote(staging, dest string, entries []Entry) error {
	for _, e := range entries {
		from := filepath.Join(staging, filepath.FromSlash(e.Path))
		to := filepath.Join(dest, filepath.FromSlash(e.Path))
		if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
			return fmt.Errorf("mkdir for %q: %w", e.Path, err)
		}
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("move %q into place: %w", e.Path, err)
		}
	}
	return nil
}
