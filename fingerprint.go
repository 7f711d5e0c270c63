package cook

import (
	"crypto/md5"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CacheFileName is the conventional name of a per-directory fingerprint
// cache file.
const CacheFileName = ".cook.fp"

// FreshnessRecord is the persisted per-file state: (oldest-time,
// newest-time, stat-mtime, content-fingerprint, ingredients-fingerprint,
// exists-flag). The invariant oldest <= newest is
// maintained by every mutator below.
type FreshnessRecord struct {
	Oldest      time.Time
	Newest      time.Time
	StatModTime time.Time
	Contents    string // content fingerprint
	Ingredients string // ingredients fingerprint (updated only by the scheduler)
	Exists      bool
}

// Empty reports whether neither fingerprint field is present; such a
// record is never persisted.
func (r FreshnessRecord) Empty() bool {
	return r.Contents == "" && r.Ingredients == ""
}

// Fingerprint computes the content fingerprint of a file: a cryptographic
// hash combined with the length and a CRC, any one of which changing
// changes the fingerprint.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	crc := crc32.NewIEEE()
	n, err := io.Copy(io.MultiWriter(h, crc), f)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x-%x-%x", h.Sum(nil), n, crc.Sum32()), nil
}

// FingerprintBytes fingerprints an in-memory byte sequence the same way,
// used for recipe-text and ingredients-set fingerprints that have no file
// backing.
func FingerprintBytes(b []byte) string {
	h := md5.New()
	h.Write(b)
	crc := crc32.ChecksumIEEE(b)
	return fmt.Sprintf("%x-%x-%x", h.Sum(nil), len(b), crc)
}

// DirCache is one per-directory fingerprint cache: a mapping from entry
// name to FreshnessRecord, a dirty flag, and a "redirected to top" flag set
// when the directory is unwritable.
type DirCache struct {
	mu        sync.Mutex
	dir       string
	records   map[string]FreshnessRecord
	dirty     bool
	redirect  bool // this directory's records live in the top-level cache instead
	writeLock *dirFileLock
}

// FingerprintStore owns one DirCache per directory plus the top-level
// "dot-directory" cache that receives records from unwritable directories.
type FingerprintStore struct {
	mu    sync.Mutex
	dirs  map[string]*DirCache
	top   *DirCache
	topAt string
}

// NewFingerprintStore creates a store whose top-level cache lives at
// topDir/CacheFileName.
func NewFingerprintStore(topDir string) *FingerprintStore {
	return &FingerprintStore{
		dirs:  make(map[string]*DirCache),
		topAt: topDir,
	}
}

func (s *FingerprintStore) topCache() *DirCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.top == nil {
		s.top = loadDirCache(s.topAt)
	}
	return s.top
}

// dirFor returns (loading if necessary) the cache for the directory
// containing path. A relative path is made absolute first, so one file
// named relatively or absolutely maps to the same cache.
func (s *FingerprintStore) dirFor(path string) *DirCache {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	dir := filepath.Dir(path)
	s.mu.Lock()
	c, ok := s.dirs[dir]
	s.mu.Unlock()
	if ok {
		return c
	}
	c = loadDirCache(dir)
	s.mu.Lock()
	s.dirs[dir] = c
	s.mu.Unlock()
	return c
}

// resolve returns the cache key for path within the directory cache that
// actually owns it, redirecting to the top-level cache (with a dir/entry
// compound key) when that directory is marked unwritable.
func (s *FingerprintStore) resolve(path string) (cache *DirCache, key string) {
	dc := s.dirFor(path)
	entry := filepath.Base(path)

	dc.mu.Lock()
	redirected := dc.redirect
	dc.mu.Unlock()

	if !redirected {
		return dc, entry
	}
	top := s.topCache()
	return top, filepath.Join(filepath.Dir(path), entry)
}

// Lookup returns the cached record for path, if any.
func (s *FingerprintStore) Lookup(path string) (FreshnessRecord, bool) {
	dc, key := s.resolve(path)
	dc.mu.Lock()
	defer dc.mu.Unlock()
	r, ok := dc.records[key]
	return r, ok
}

// Update applies the re-fingerprinting rule. A changed content fingerprint
// means a new file version: oldest and newest both reset to mtime. An
// unchanged fingerprint with a moved mtime only advances newest, clamping
// oldest downward in case the file headed into the past, so oldest keeps
// recording when this content first appeared, which is what the freshness
// comparison wants when a file is touched without being changed. If neither
// the fingerprint nor the mtime moved, nothing is written.
func (s *FingerprintStore) Update(path string, mtime time.Time, contents string) FreshnessRecord {
	dc, key := s.resolve(path)
	dc.mu.Lock()
	defer dc.mu.Unlock()

	old, existed := dc.records[key]
	switch {
	case !existed || old.Contents != contents:
		r := old
		r.Exists = true
		r.Contents = contents
		r.Oldest = mtime
		r.Newest = mtime
		r.StatModTime = mtime
		dc.records[key] = r
		dc.dirty = true
		return r

	case !old.Newest.Equal(mtime):
		r := old
		r.Newest = mtime
		r.StatModTime = mtime
		if !r.Oldest.Before(mtime) {
			r.Oldest = mtime
		}
		dc.records[key] = r
		dc.dirty = true
		return r

	default:
		return old
	}
}

// UpdateIngredients sets the ingredients fingerprint field, a separate
// write the scheduler performs on recipe completion. It is not consulted
// by the equality check that decides whether a file changed, only by the
// check that decides whether the cache needs writing.
func (s *FingerprintStore) UpdateIngredients(path, ingredientsFP string) {
	dc, key := s.resolve(path)
	dc.mu.Lock()
	defer dc.mu.Unlock()
	r := dc.records[key]
	if r.Ingredients != ingredientsFP {
		r.Ingredients = ingredientsFP
		dc.records[key] = r
		dc.dirty = true
	}
}

// Clear removes a record, marking the owning cache dirty if it existed.
func (s *FingerprintStore) Clear(path string) {
	dc, key := s.resolve(path)
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if _, ok := dc.records[key]; ok {
		delete(dc.records, key)
		dc.dirty = true
	}
}

// MarkUnwritable flags the directory dir as redirected to the top-level
// cache; subsequent Update/Lookup calls for files in that directory persist
// through the top-level cache instead.
func (s *FingerprintStore) MarkUnwritable(dir string) {
	dc := s.dirFor(filepath.Join(dir, CacheFileName))
	dc.mu.Lock()
	dc.redirect = true
	dc.mu.Unlock()
}

// MarkWritable clears a prior MarkUnwritable, allowing a directory that has
// become writable again to hold its own cache file.
func (s *FingerprintStore) MarkWritable(dir string) {
	dc := s.dirFor(filepath.Join(dir, CacheFileName))
	dc.mu.Lock()
	dc.redirect = false
	dc.mu.Unlock()
}

// Flush writes every dirty directory cache (and the top-level cache) to
// disk. Must be invoked on every termination path, including signal-driven
// cancellation.
func (s *FingerprintStore) Flush() error {
	s.mu.Lock()
	dirs := make([]*DirCache, 0, len(s.dirs)+1)
	for _, d := range s.dirs {
		dirs = append(dirs, d)
	}
	if s.top != nil {
		dirs = append(dirs, s.top)
	}
	s.mu.Unlock()

	var firstErr error
	for _, d := range dirs {
		if err := d.save(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func loadDirCache(dir string) *DirCache {
	c := &DirCache{dir: dir, records: make(map[string]FreshnessRecord)}
	path := filepath.Join(dir, CacheFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		// Stale or non-regular-file cache: unlink and recreate.
		_ = os.Remove(path)
		return c
	}
	records, perr := parseCacheFile(data)
	if perr != nil {
		_ = os.Remove(path)
		return c
	}
	c.records = records
	return c
}

// save writes the cache file under an advisory exclusive lock,
// approximated with a per-directory sentinel lock file plus an in-process
// mutex rather than an fcntl byte-range lock.
func (c *DirCache) save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	lock, err := acquireDirLock(c.dir)
	if err != nil {
		return err
	}
	defer lock.release()

	path := filepath.Join(c.dir, CacheFileName)
	data := formatCacheFile(c.records)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// dirFileLock is the process-local half of the advisory lock: an os.O_EXCL
// sentinel plus a mutex that also serialises same-process writers, giving
// cross-process writers a detectable (if coarser) mutual-exclusion signal
// via the sentinel file.
type dirFileLock struct {
	path string
	mu   *sync.Mutex
}

var dirLockMu sync.Map // dir -> *sync.Mutex, serialises same-process writers

func acquireDirLock(dir string) (*dirFileLock, error) {
	muAny, _ := dirLockMu.LoadOrStore(dir, &sync.Mutex{})
	muAny.(*sync.Mutex).Lock()

	lockPath := filepath.Join(dir, CacheFileName+".lock")
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			break
		}
		if !os.IsExist(err) {
			muAny.(*sync.Mutex).Unlock()
			return nil, err
		}
		time.Sleep(time.Millisecond)
	}
	return &dirFileLock{path: lockPath, mu: muAny.(*sync.Mutex)}, nil
}

func (l *dirFileLock) release() {
	os.Remove(l.path)
	l.mu.Unlock()
}

// --- cache file grammar -----------------------------------------------
//
// file      := entry*
// entry     := STRING '=' '{' NUMBER (NUMBER (NUMBER)?)? STRING STRING? '}'
//
// A straight-line parser over the byte slice.

func formatCacheFile(records map[string]FreshnessRecord) []byte {
	var b strings.Builder
	// Deterministic order keeps diffs (and tests) stable.
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		r := records[k]
		if r.Empty() {
			continue
		}
		fmt.Fprintf(&b, "%s = { %d", quoteCacheString(k), r.Oldest.Unix())
		if r.Oldest.Unix() != r.Newest.Unix() || r.Newest.Unix() != r.StatModTime.Unix() {
			fmt.Fprintf(&b, " %d", r.Newest.Unix())
			if r.Newest.Unix() != r.StatModTime.Unix() {
				fmt.Fprintf(&b, " %d", r.StatModTime.Unix())
			}
		}
		fmt.Fprintf(&b, " %s", quoteCacheString(r.Contents))
		if r.Ingredients != "" {
			fmt.Fprintf(&b, " %s", quoteCacheString(r.Ingredients))
		}
		b.WriteString(" }\n")
	}
	return []byte(b.String())
}

func quoteCacheString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

type cacheParser struct {
	data []byte
	pos  int
}

func parseCacheFile(data []byte) (map[string]FreshnessRecord, error) {
	p := &cacheParser{data: data}
	records := make(map[string]FreshnessRecord)
	for {
		p.skipSpace()
		if p.pos >= len(p.data) {
			break
		}
		key, err := p.parseString()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect('='); err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect('{'); err != nil {
			return nil, err
		}
		r, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect('}'); err != nil {
			return nil, err
		}
		records[key] = r
	}
	return records, nil
}

func (p *cacheParser) skipSpace() {
	for p.pos < len(p.data) {
		switch p.data[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *cacheParser) expect(c byte) error {
	if p.pos >= len(p.data) || p.data[p.pos] != c {
		return fmt.Errorf("fingerprint cache: expected %q at byte %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *cacheParser) parseString() (string, error) {
	if err := p.expect('"'); err != nil {
		return "", err
	}
	var b strings.Builder
	for {
		if p.pos >= len(p.data) {
			return "", fmt.Errorf("fingerprint cache: unterminated string")
		}
		c := p.data[p.pos]
		if c == '"' {
			p.pos++
			return b.String(), nil
		}
		if c == '\\' && p.pos+1 < len(p.data) {
			next := p.data[p.pos+1]
			if next == '"' || next == '\\' {
				b.WriteByte(next)
				p.pos += 2
				continue
			}
		}
		b.WriteByte(c)
		p.pos++
	}
}

func (p *cacheParser) parseNumber() (int64, bool) {
	start := p.pos
	if p.pos < len(p.data) && (p.data[p.pos] == '-' || p.data[p.pos] == '+') {
		p.pos++
	}
	digits := p.pos
	for p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == digits {
		p.pos = start
		return 0, false
	}
	n, _ := strconv.ParseInt(string(p.data[start:p.pos]), 10, 64)
	return n, true
}

func (p *cacheParser) parseValue() (FreshnessRecord, error) {
	var r FreshnessRecord
	p.skipSpace()
	oldest, ok := p.parseNumber()
	if !ok {
		return r, fmt.Errorf("fingerprint cache: expected oldest timestamp at byte %d", p.pos)
	}
	newest := oldest
	statMod := oldest

	p.skipSpace()
	if n, ok := p.parseNumber(); ok {
		newest = n
		statMod = n
		p.skipSpace()
		if n2, ok := p.parseNumber(); ok {
			statMod = n2
		}
	}

	p.skipSpace()
	contents, err := p.parseString()
	if err != nil {
		return r, err
	}

	var ingredients string
	save := p.pos
	p.skipSpace()
	if p.pos < len(p.data) && p.data[p.pos] == '"' {
		ingredients, err = p.parseString()
		if err != nil {
			return r, err
		}
	} else {
		p.pos = save
	}

	r.Oldest = time.Unix(oldest, 0).UTC()
	r.Newest = time.Unix(newest, 0).UTC()
	r.StatModTime = time.Unix(statMod, 0).UTC()
	r.Contents = contents
	r.Ingredients = ingredients
	r.Exists = true
	return r, nil
}
