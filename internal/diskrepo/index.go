package diskrepo

import (
	"bytes"
	"compress/gzip"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/xbps-tools/index-repos/internal/repoindex"
)

const (
	publicIndexName = "public/index.toml"
	stageIndexName  = "stage/index.toml"
	metaBlobName    = "meta.bin"
)

// tomlPackage is the on-disk shape of one package record, using plain
// struct-tag-driven toml.Marshal/Unmarshal rather than the query-based
// TomlTree reader, since index entries are a flat, uniform record type
// with no need for heterogeneous table handling.
type tomlPackage struct {
	Pkgver        string   `toml:"pkgver"`
	Provides      []string `toml:"provides,omitempty"`
	ShlibProvides []string `toml:"shlib_provides,omitempty"`
	ShlibRequires []string `toml:"shlib_requires,omitempty"`
	RunDepends    []string `toml:"run_depends,omitempty"`
}

type tomlIndex struct {
	Packages map[string]tomlPackage `toml:"packages"`
}

// FileIndexReader reads one overlay's index.toml from disk.
type FileIndexReader struct {
	Path string
}

// Entries implements repoindex.IndexReader.
func (r FileIndexReader) Entries() (map[string]*repoindex.PackageDict, error) {
	raw, err := readMaybeCompressed(r.Path)
	if os.IsNotExist(err) {
		return map[string]*repoindex.PackageDict{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", r.Path)
	}

	var idx tomlIndex
	if err := toml.Unmarshal(raw, &idx); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", r.Path)
	}

	out := make(map[string]*repoindex.PackageDict, len(idx.Packages))
	for pkgname, p := range idx.Packages {
		out[pkgname] = &repoindex.PackageDict{
			Pkgver:        p.Pkgver,
			Provides:      p.Provides,
			ShlibProvides: p.ShlibProvides,
			ShlibRequires: p.ShlibRequires,
			RunDepends:    p.RunDepends,
		}
	}
	return out, nil
}

func readMaybeCompressed(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if gz, gzErr := os.Open(path + ".gz"); gzErr == nil {
			defer gz.Close()
			r, err := gzip.NewReader(gz)
			if err != nil {
				return nil, err
			}
			defer r.Close()
			return ioutil.ReadAll(r)
		}
		return nil, err
	}
	defer f.Close()
	return ioutil.ReadAll(f)
}

// FileRepoWriter flushes an updated set of entries back to
// repoPath/public/index.toml, optionally gzip-compressed.
type FileRepoWriter struct{}

// Flush implements repoindex.RepoWriter.
func (FileRepoWriter) Flush(repoPath string, entries map[string]*repoindex.PackageDict, metaBlob []byte, compression string) error {
	idx := tomlIndex{Packages: make(map[string]tomlPackage, len(entries))}
	for pkgname, dict := range entries {
		idx.Packages[pkgname] = tomlPackage{
			Pkgver:        dict.Pkgver,
			Provides:      dict.Provides,
			ShlibProvides: dict.ShlibProvides,
			ShlibRequires: dict.ShlibRequires,
			RunDepends:    dict.RunDepends,
		}
	}

	encoded, err := toml.Marshal(idx)
	if err != nil {
		return errors.Wrap(err, "encoding index.toml")
	}

	target := filepath.Join(repoPath, publicIndexName)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(target))
	}

	if err := writeMaybeCompressed(target, encoded, compression); err != nil {
		return err
	}

	if len(metaBlob) > 0 {
		if err := ioutil.WriteFile(filepath.Join(repoPath, metaBlobName), metaBlob, 0o644); err != nil {
			return errors.Wrapf(err, "writing %s", metaBlobName)
		}
	}
	return nil
}

func writeMaybeCompressed(target string, encoded []byte, compression string) error {
	if compression == "" || compression == "none" {
		return ioutil.WriteFile(target, encoded, 0o644)
	}

	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return errors.Wrap(err, "starting gzip writer")
	}
	if _, err := gw.Write(encoded); err != nil {
		return errors.Wrap(err, "compressing index.toml")
	}
	if err := gw.Close(); err != nil {
		return errors.Wrap(err, "flushing gzip writer")
	}
	return ioutil.WriteFile(target+".gz", buf.Bytes(), 0o644)
}

// DiscoverRepos walks root looking for directories that contain either
// a public/ or stage/ subdirectory, returning their paths in
// deterministic (lexical) order. Uses godirwalk rather than
// filepath.Walk, which re-stats every entry it yields and is wasteful
// across large repository trees.
func DiscoverRepos(root string) ([]string, error) {
	var repos []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if !de.IsDir() {
				return nil
			}
			base := filepath.Base(osPathname)
			if base == "public" || base == "stage" {
				parent := filepath.Dir(osPathname)
				if !contains(repos, parent) {
					repos = append(repos, parent)
				}
				return filepath.SkipDir
			}
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", root)
	}
	return repos, nil
}

func contains(ss []string, s string) bool {
	for _, existing := range ss {
		if existing == s {
			return true
		}
	}
	return false
}

// Open implements repoindex.Opener against the on-disk layout.
func Open(repoPath string) (*repoindex.Repository, error) {
	metaBlob, err := ioutil.ReadFile(filepath.Join(repoPath, metaBlobName))
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "reading %s", metaBlobName)
	}

	return &repoindex.Repository{
		Path:     repoPath,
		Public:   FileIndexReader{Path: filepath.Join(repoPath, publicIndexName)},
		Stage:    FileIndexReader{Path: filepath.Join(repoPath, stageIndexName)},
		MetaBlob: metaBlob,
	}, nil
}
