package badkeys

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/runZeroInc/excrypto/crypto/sha256"
	"github.com/runZeroInc/excrypto/x/crypto/ssh"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

const MaxLookupLine = 4096
const MaxResponseSize = 1024 * 1024 * 512
const CacheFileMetadata = "badkeysdata.json"
const CacheFileBlocklist = "blocklist.dat"
const CacheFileLookup = "lookup.txt"
const HTTPDataDownloadTimeout = time.Hour
const HTTPMetaDownloadTimeout = time.Second * 30

// ErrNoBlocklist is returned when the cache directory has not been populated
var ErrNoBlocklist = errors.New("badkeys blocklist is not cached")

// Cache loads the badkeys tables from a local directory and refreshes them
// from the published manifest. Revoked keys read from local files are merged
// into the loaded blocklist.
type Cache struct {
	sync.Mutex
	MetaURL   string
	Blocklist *Blocklist
	LoadError error
	cacheDir  string
	revoked   []string
	log       *logrus.Logger
}

func NewCache(log *logrus.Logger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{MetaURL: BadKeysMetaURL, log: log}
}

// AddRevokedFile registers an authorized_keys style file whose keys are
// refused alongside the badkeys entries. It must be called before the first
// load.
func (cache *Cache) AddRevokedFile(path string) {
	cache.Lock()
	defer cache.Unlock()
	cache.revoked = append(cache.revoked, path)
}

// Check implements the compromised key hook used by the login strategy
func (cache *Cache) Check(pub ssh.PublicKey) (*Result, error) {
	tset, err := cache.LoadBlocklist()
	if err != nil {
		return nil, err
	}
	return tset.Check(pub)
}

// LoadBlocklist loads the blocklist from disk if necessary. A missing cache
// yields a blocklist containing only the revoked keys, if any were
// registered.
func (cache *Cache) LoadBlocklist() (*Blocklist, error) {
	cache.Lock()
	defer cache.Unlock()
	if cache.Blocklist != nil || cache.LoadError != nil {
		return cache.Blocklist, cache.LoadError
	}

	if len(cache.revoked) > MaxRevokedFiles {
		cache.LoadError = fmt.Errorf("%d revoked keys files given, at most %d are supported", len(cache.revoked), MaxRevokedFiles)
		return nil, cache.LoadError
	}

	tset, err := cache.loadBlocklistFromDisk()
	if errors.Is(err, ErrNoBlocklist) && len(cache.revoked) > 0 {
		cache.log.Warnf("badkeys: %v, using revoked keys only", err)
		tset, err = NewBlocklist(), nil
	}
	if err != nil {
		cache.LoadError = err
		return nil, err
	}

	for i, path := range cache.revoked {
		cnt, err := LoadRevokedKeys(tset, path, RevokedRepoBaseID+i, cache.log)
		if err != nil {
			cache.LoadError = fmt.Errorf("revoked keys %s: %w", path, err)
			return nil, cache.LoadError
		}
		cache.log.Debugf("badkeys: loaded %d revoked keys from %s", cnt, path)
	}
	cache.Blocklist = tset
	return tset, nil
}

// Reset drops the loaded tables so the next check reloads them
func (cache *Cache) Reset() {
	cache.Lock()
	defer cache.Unlock()
	cache.Blocklist = nil
	cache.LoadError = nil
}

func (cache *Cache) loadBlocklistFromDisk() (*Blocklist, error) {
	tset := NewBlocklist()

	rdr, err := cache.OpenFile(CacheFileMetadata)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoBlocklist, cache.GetCacheDir())
		}
		return nil, fmt.Errorf("manifest open: %w", err)
	}
	meta, err := ReadBadKeysManifest(rdr)
	_ = rdr.Close()
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	tset.Meta = meta
	for _, repo := range meta.Blocklists {
		tset.Repos[repo.ID] = repo
	}

	rdr, err = cache.OpenFile(CacheFileBlocklist)
	if err != nil {
		return nil, fmt.Errorf("blocklist open: %w", err)
	}
	buff, err := io.ReadAll(rdr)
	_ = rdr.Close()
	if err != nil {
		return nil, fmt.Errorf("blocklist: %w", err)
	}
	if len(buff)%BlockLength != 0 {
		return nil, fmt.Errorf("blocklist: size %d is not a multiple of %d", len(buff), BlockLength)
	}
	tset.Blocks = buff

	rdr, err = cache.OpenFile(CacheFileLookup)
	if err != nil {
		return nil, fmt.Errorf("lookup open: %w", err)
	}
	defer rdr.Close()

	smap := make(map[string]int)
	scan := bufio.NewScanner(rdr)
	scan.Buffer(make([]byte, MaxLookupLine), MaxLookupLine)
	for scan.Scan() {
		kid, kpath, ok := strings.Cut(scan.Text(), ";")
		if !ok {
			continue
		}
		kint, err := strconv.ParseUint(kid, 16, 64)
		if err != nil {
			cache.log.Errorf("badkeys: invalid key id %s: %v", kid, err)
			continue
		}
		bits := strings.Split(kpath, "/")
		lset := make([]int, len(bits))
		for i, kdir := range bits {
			sid, found := smap[kdir]
			if !found {
				sid = len(tset.LookupStrings)
				smap[kdir] = sid
				tset.LookupStrings = append(tset.LookupStrings, kdir)
			}
			lset[i] = sid
		}
		tset.LookupMap[kint] = lset
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	return tset, nil
}

// SetCacheDir sets the location of the badkeys block tables
func (cache *Cache) SetCacheDir(s string) {
	cache.cacheDir = s
}

// GetCacheDir returns the location of the badkeys block tables
func (cache *Cache) GetCacheDir() string {
	if cache.cacheDir != "" {
		return cache.cacheDir
	}
	base, err := os.UserHomeDir()
	if err != nil || base == "" {
		base = GetExecutableDir()
	}
	cache.cacheDir = filepath.Join(base, ".cache", "sshlogin", "badkeys")
	return cache.cacheDir
}

func (cache *Cache) OpenFile(path string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(cache.GetCacheDir(), filepath.Base(path)))
}

func (cache *Cache) CreateFile(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(cache.GetCacheDir(), 0o755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(cache.GetCacheDir(), filepath.Base(path)))
}

func (cache *Cache) RemoveFile(path string) error {
	return os.Remove(filepath.Join(cache.GetCacheDir(), filepath.Base(path)))
}

// RenameFile replaces dst with src inside the cache directory
func (cache *Cache) RenameFile(src string, dst string) error {
	_ = os.Remove(filepath.Join(cache.GetCacheDir(), filepath.Base(dst)))
	return os.Rename(
		filepath.Join(cache.GetCacheDir(), filepath.Base(src)),
		filepath.Join(cache.GetCacheDir(), filepath.Base(dst)),
	)
}

func (cache *Cache) CurrentMetadata() (*Meta, error) {
	rdr, err := cache.OpenFile(CacheFileMetadata)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()
	return ReadBadKeysManifest(rdr)
}

// Update fetches the manifest and, when its date differs from the cached
// copy, downloads and verifies the blocklist and lookup tables. It returns
// the previous and current manifest dates.
func (cache *Cache) Update(ctx context.Context) (string, string, error) {
	var pre, cur string

	body, err := httpGetData(ctx, cache.MetaURL, HTTPMetaDownloadTimeout)
	if err != nil {
		return pre, cur, fmt.Errorf("failed to retrieve %s: %w", cache.MetaURL, err)
	}
	meta := &Meta{}
	if err := json.Unmarshal(body, meta); err != nil {
		return pre, cur, fmt.Errorf("failed to decode %s: %w", cache.MetaURL, err)
	}
	cur = meta.Date

	tmpFiles := []string{}
	defer func() {
		for _, path := range tmpFiles {
			_ = cache.RemoveFile(path)
		}
	}()

	for _, u := range []string{meta.BlocklistURL, meta.LookupURL} {
		if !(strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) {
			return pre, cur, fmt.Errorf("bad download url %q", u)
		}
	}

	if oldMeta, err := cache.CurrentMetadata(); err == nil {
		pre = oldMeta.Date
		if oldMeta.Date == meta.Date {
			return pre, cur, nil
		}
	}

	w, err := cache.CreateFile(CacheFileMetadata + ".tmp")
	if err != nil {
		return pre, cur, fmt.Errorf("failed to create metadata: %w", err)
	}
	tmpFiles = append(tmpFiles, CacheFileMetadata+".tmp")
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return pre, cur, fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := w.Close(); err != nil {
		return pre, cur, fmt.Errorf("failed to close metadata: %w", err)
	}

	if err := cache.DownloadAndValidateXZ(ctx, meta.BlocklistURL, meta.BlocklistSHA256, CacheFileBlocklist+".tmp"); err != nil {
		return pre, cur, err
	}
	tmpFiles = append(tmpFiles, CacheFileBlocklist+".tmp")

	if err := cache.DownloadAndValidateXZ(ctx, meta.LookupURL, meta.LookupSHA256, CacheFileLookup+".tmp"); err != nil {
		return pre, cur, err
	}
	tmpFiles = append(tmpFiles, CacheFileLookup+".tmp")

	for _, name := range []string{CacheFileBlocklist, CacheFileLookup, CacheFileMetadata} {
		if err := cache.RenameFile(name+".tmp", name); err != nil {
			return pre, cur, err
		}
	}
	tmpFiles = nil

	cache.log.Infof("badkeys: updated tables from %q to %q", pre, cur)
	cache.Reset()
	return pre, cur, nil
}

// DownloadAndValidateXZ writes the decompressed body of u to path, verifying
// the SHA-256 of the decompressed data against hash
func (cache *Cache) DownloadAndValidateXZ(ctx context.Context, u string, hash string, path string) error {
	bodyHashExp, err := hex.DecodeString(hash)
	if err != nil {
		return fmt.Errorf("bad sha256 for %s in metadata: %w", path, err)
	}

	res, cancel, err := httpGet(ctx, u, HTTPDataDownloadTimeout)
	defer cancel()
	if err != nil {
		return fmt.Errorf("download failed for %s: %w", path, err)
	}
	defer res.Body.Close()

	w, err := cache.CreateFile(path)
	if err != nil {
		return fmt.Errorf("create failed for %s: %w", path, err)
	}
	cleanup := func() {
		_ = w.Close()
		_ = cache.RemoveFile(path)
	}

	h := sha256.New()
	r, err := xz.NewReader(io.LimitReader(res.Body, MaxResponseSize))
	if err != nil {
		cleanup()
		return fmt.Errorf("xz read failed for %s: %w", path, err)
	}
	if _, err = io.Copy(io.MultiWriter(w, h), r); err != nil {
		cleanup()
		return fmt.Errorf("read failed for %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		cleanup()
		return fmt.Errorf("write failed for %s: %w", path, err)
	}

	bodyHashGot := h.Sum(nil)
	if !bytes.Equal(bodyHashExp, bodyHashGot) {
		_ = cache.RemoveFile(path)
		return fmt.Errorf("bad sha256 for %s, expected %s and got %s", path, hash, hex.EncodeToString(bodyHashGot))
	}
	return nil
}
