package item

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

const maxNNN = 999

var slugInvalidRe = regexp.MustCompile(`[^a-z0-9-]+`)

// Store is the durable, file-based item index and per-item directory tree
// rooted at <root>/.wreckit/items.
type Store struct {
	root string // <root>/.wreckit

	// indexMu protects index.json reads/writes.
	indexMu sync.Mutex

	// createMu serializes the scan-then-claim id allocation protocol per
	// section so two concurrent Create calls in the same process never
	// race on the same candidate NNN before the EEXIST retry kicks in.
	createMu sync.Mutex
}

// New returns a Store rooted at <wreckitDir> (typically <projectRoot>/.wreckit).
func New(wreckitDir string) *Store {
	return &Store{root: wreckitDir}
}

func (s *Store) itemsDir() string { return filepath.Join(s.root, "items") }

func (s *Store) sectionDir(section string) string {
	return filepath.Join(s.itemsDir(), section)
}

func (s *Store) itemDir(id string) string {
	return filepath.Join(s.itemsDir(), filepath.FromSlash(id))
}

func itemJSONPath(dir string) string { return filepath.Join(dir, "item.json") }

// Slugify derives a filesystem/id-safe slug from a title.
func Slugify(title string) string {
	lower := strings.ToLower(strings.TrimSpace(title))
	lower = slugInvalidRe.ReplaceAllString(strings.ReplaceAll(lower, " ", "-"), "-")
	lower = strings.Trim(lower, "-")
	for strings.Contains(lower, "--") {
		lower = strings.ReplaceAll(lower, "--", "-")
	}
	if lower == "" {
		lower = "item"
	}
	return lower
}

// Create allocates the next NNN in section and writes a new item directory
//. Uses a directory-scan-then-claim protocol: list
// existing ids, compute max+1, attempt Mkdir with that id; on EEXIST,
// rescan and retry. This guarantees uniqueness even under concurrent
// creation from other processes, not just
// in-process callers.
func (s *Store) Create(section, title, overview string) (string, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()
	it, err := s.createLocked(section, title, overview)
	if err != nil {
		return "", err
	}
	if err := s.patchIndex(it); err != nil {
		return "", err
	}
	return it.ID, nil
}

// createLocked does everything Create does except publish to the index,
// so CreateBatch can create several items and publish them in one index
// write (DESIGN.md Open Question decision #3). Caller must hold createMu.
func (s *Store) createLocked(section, title, overview string) (*Item, error) {
	if section == "" {
		return nil, wreckerr.New(wreckerr.KindUsage, "section must not be empty")
	}
	if title == "" {
		return nil, wreckerr.New(wreckerr.KindUsage, "title must not be empty")
	}

	slug := Slugify(title)
	if err := os.MkdirAll(s.sectionDir(section), 0755); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 10000; attempt++ {
		next, err := s.nextNNN(section)
		if err != nil {
			return nil, err
		}
		if next > maxNNN {
			return nil, wreckerr.New(wreckerr.KindUsage, fmt.Sprintf("section %q is full (NNN would exceed %d)", section, maxNNN))
		}
		id := fmt.Sprintf("%s/%03d-%s", section, next, slug)
		dir := s.itemDir(id)
		if err := os.Mkdir(dir, 0755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue // lost a race (e.g. another process); rescan and retry
			}
			return nil, err
		}

		now := time.Now().UTC()
		it := &Item{
			ID:        id,
			Section:   section,
			Title:     title,
			Overview:  overview,
			State:     StateIdea,
			CreatedAt: now,
			UpdatedAt: now,
		}
		data, err := json.MarshalIndent(it, "", "  ")
		if err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		if err := writeFileAtomic(itemJSONPath(dir), data, 0644); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		return it, nil
	}
	return nil, wreckerr.New(wreckerr.KindUsage, "could not allocate item id after repeated contention")
}

// nextNNN scans section's directory and returns max+1 (1 if empty).
func (s *Store) nextNNN(section string) (int, error) {
	entries, err := os.ReadDir(s.sectionDir(section))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 1, nil
		}
		return 0, err
	}
	max := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, ok := parseNNN(e.Name())
		if ok && n > max {
			max = n
		}
	}
	return max + 1, nil
}

func parseNNN(dirname string) (int, bool) {
	parts := strings.SplitN(dirname, "-", 2)
	if len(parts) == 0 || len(parts[0]) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Read loads an item's structured fields from its directory.
func (s *Store) Read(id string) (*Item, error) {
	dir := s.itemDir(id)
	data, err := os.ReadFile(itemJSONPath(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, wreckerr.New(wreckerr.KindNotFound, fmt.Sprintf("item %q not found", id))
		}
		return nil, err
	}
	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, wreckerr.Wrap(wreckerr.KindArtifact, fmt.Sprintf("item %q has malformed item.json", id), err)
	}
	return &it, nil
}

// Patch is a partial update applied under Mutate.
type Patch func(*Item)

// Mutate atomically applies patch to the item and persists it: read,
// modify in memory, write to a sibling temp file, fsync, rename over the
// target. UpdatedAt is stamped automatically.
func (s *Store) Mutate(id string, patch Patch) (*Item, error) {
	it, err := s.Read(id)
	if err != nil {
		return nil, err
	}
	patch(it)
	it.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(it, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(itemJSONPath(s.itemDir(id)), data, 0644); err != nil {
		return nil, err
	}
	if err := s.patchIndex(it); err != nil {
		return nil, err
	}
	return it, nil
}

// Filter selects items for List.
type Filter struct {
	State   State  // empty matches any state
	Section string // empty matches any section
}

func (f Filter) matches(sum Summary) bool {
	if f.State != "" && sum.State != f.State {
		return false
	}
	if f.Section != "" && sum.Section != f.Section {
		return false
	}
	return true
}

// List returns item summaries matching filter, backed by the index for
// speed; falls back to a full directory scan if the index is stale or
// absent.
func (s *Store) List(filter Filter) ([]Summary, error) {
	idx, err := s.readIndex()
	if err != nil || idx == nil {
		idx, err = s.Reindex()
		if err != nil {
			return nil, err
		}
	}
	var out []Summary
	for _, sum := range idx {
		if filter.matches(sum) {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Reindex regenerates index.json by scanning every item directory; this is
// the authoritative recovery procedure. Directories
// missing required fields are discarded and logged to stderr — callers
// that need the skip list itself should use ReindexVerbose.
func (s *Store) Reindex() (map[string]Summary, error) {
	idx, skipped, err := s.reindexVerbose()
	for _, id := range skipped {
		fmt.Fprintf(os.Stderr, "reindex: discarded %s (missing or malformed item.json)\n", id)
	}
	return idx, err
}

// ReindexVerbose is like Reindex but also returns the ids of directories
// that were discarded for missing/malformed item.json.
func (s *Store) ReindexVerbose() (map[string]Summary, []string, error) {
	return s.reindexVerbose()
}

func (s *Store) reindexVerbose() (map[string]Summary, []string, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	idx := make(map[string]Summary)
	var skipped []string

	sections, err := os.ReadDir(s.itemsDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return idx, nil, s.writeIndexLocked(idx)
		}
		return nil, nil, err
	}
	for _, sec := range sections {
		if !sec.IsDir() {
			continue
		}
		items, err := os.ReadDir(s.sectionDir(sec.Name()))
		if err != nil {
			continue
		}
		for _, it := range items {
			if !it.IsDir() {
				continue
			}
			id := sec.Name() + "/" + it.Name()
			data, err := os.ReadFile(itemJSONPath(s.itemDir(id)))
			if err != nil {
				skipped = append(skipped, id)
				continue
			}
			var record Item
			if err := json.Unmarshal(data, &record); err != nil || record.ID == "" {
				skipped = append(skipped, id)
				continue
			}
			idx[record.ID] = record.toSummary()
		}
	}
	if err := s.writeIndexLocked(idx); err != nil {
		return nil, nil, err
	}
	return idx, skipped, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.root, "index.json") }

func (s *Store) readIndex() (map[string]Summary, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var idx map[string]Summary
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, nil // treat as stale
	}
	return idx, nil
}

func (s *Store) writeIndexLocked(idx map[string]Summary) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.indexPath(), data, 0644)
}

// patchIndex applies a single item's summary into index.json under the
// index mutex. On-disk item state is preferred on any index/disk
// conflict, which patchIndex enforces by always
// writing from the just-persisted Item, never from stale index data.
func (s *Store) patchIndex(it *Item) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	idx, err := s.readIndexLocked()
	if err != nil {
		idx = make(map[string]Summary)
	}
	if idx == nil {
		idx = make(map[string]Summary)
	}
	idx[it.ID] = it.toSummary()
	return s.writeIndexLocked(idx)
}

func (s *Store) readIndexLocked() (map[string]Summary, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var idx map[string]Summary
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, nil
	}
	return idx, nil
}

// Dir returns the on-disk directory for an item id, for callers (phase
// runner, git lifecycle) that need to read/write item artifacts directly.
func (s *Store) Dir(id string) string { return s.itemDir(id) }

// CreateBatch creates multiple items and publishes them to the index in a
// single atomic index write, so a concurrent List/Reindex call never
// observes part of the batch.
func (s *Store) CreateBatch(section string, titles []struct{ Title, Overview string }) ([]string, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	var ids []string
	var created []*Item
	for _, t := range titles {
		it, err := s.createLocked(section, t.Title, t.Overview)
		if err != nil {
			return ids, err
		}
		ids = append(ids, it.ID)
		created = append(created, it)
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	idx, err := s.readIndexLocked()
	if err != nil || idx == nil {
		idx = make(map[string]Summary)
	}
	for _, it := range created {
		idx[it.ID] = it.toSummary()
	}
	if err := s.writeIndexLocked(idx); err != nil {
		return ids, err
	}
	return ids, nil
}
