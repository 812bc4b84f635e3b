package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/iblconvert/alyx2nwb/internal"
	"gopkg.in/yaml.v3"
)

// CacheVersion changes whenever the document layout changes
const CacheVersion = "1.0"

// CacheManager keeps discovered documents on disk. A cached document is
// valid while the session's list of dataset types is unchanged.
type CacheManager struct {
	cacheDir string
}

// CacheMetadata describes the cache as a whole
type CacheMetadata struct {
	Source       string    `yaml:"source"`
	CacheVersion string    `yaml:"cache_version"`
	CreatedAt    time.Time `yaml:"created_at"`
	UpdatedAt    time.Time `yaml:"updated_at"`
}

// DocumentIndexEntry is one cached document
type DocumentIndexEntry struct {
	EID         string    `yaml:"eid"`
	Digest      string    `yaml:"digest"`
	Subject     string    `yaml:"subject,omitempty"`
	Lab         string    `yaml:"lab,omitempty"`
	StartTime   string    `yaml:"start_time,omitempty"`
	Sections    []string  `yaml:"sections"`
	FieldCount  int       `yaml:"field_count"`
	GeneratedAt time.Time `yaml:"generated_at"`
}

// DocumentIndex is the YAML index of all cached documents
type DocumentIndex struct {
	Documents []DocumentIndexEntry `yaml:"documents"`
	Metadata  CacheMetadata        `yaml:"metadata"`
}

// NewCacheManager creates a cache manager rooted at cacheDir
func NewCacheManager(cacheDir string) *CacheManager {
	return &CacheManager{cacheDir: cacheDir}
}

// EnsureCacheDir creates the cache directory
func (cm *CacheManager) EnsureCacheDir() error {
	return os.MkdirAll(cm.cacheDir, 0755)
}

// GetCacheDir returns the cache directory path
func (cm *CacheManager) GetCacheDir() string {
	return cm.cacheDir
}

// GetIndexPath returns the path of the index file
func (cm *CacheManager) GetIndexPath() string {
	return filepath.Join(cm.cacheDir, "documents.yaml")
}

// GetDocumentPath returns the cache file of one session
func (cm *CacheManager) GetDocumentPath(eid string) string {
	return filepath.Join(cm.cacheDir, fmt.Sprintf("document_%s.yaml", eid))
}

// Digest fingerprints a dataset type list independently of its order
func Digest(datasetTypes []string) string {
	sorted := append([]string(nil), datasetTypes...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// LoadIndex loads the document index
func (cm *CacheManager) LoadIndex() (*DocumentIndex, error) {
	data, err := os.ReadFile(cm.GetIndexPath())
	if err != nil {
		return nil, err
	}
	var index DocumentIndex
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to unmarshal index: %w", err)
	}
	return &index, nil
}

// SaveIndex writes the document index
func (cm *CacheManager) SaveIndex(index *DocumentIndex) error {
	if err := cm.EnsureCacheDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	return os.WriteFile(cm.GetIndexPath(), data, 0644)
}

// Lookup returns the cached document of a session when its digest matches
func (cm *CacheManager) Lookup(eid string, datasetTypes []string) (*Document, bool) {
	index, err := cm.LoadIndex()
	if err != nil {
		return nil, false
	}
	digest := Digest(datasetTypes)
	for _, e := range index.Documents {
		if e.EID != eid {
			continue
		}
		if e.Digest != digest {
			internal.LogDebug("cached document for %s is stale", eid)
			return nil, false
		}
		doc, err := ReadDocument(cm.GetDocumentPath(eid))
		if err != nil {
			internal.LogWarn("cached document for %s unreadable: %v", eid, err)
			return nil, false
		}
		return doc, true
	}
	return nil, false
}

// Store saves a document and records it in the index
func (cm *CacheManager) Store(doc *Document, datasetTypes []string, source string) error {
	if err := WriteDocument(doc, cm.GetDocumentPath(doc.EID)); err != nil {
		return err
	}

	now := time.Now()
	index, err := cm.LoadIndex()
	if err != nil || index.Metadata.Source != source || index.Metadata.CacheVersion != CacheVersion {
		index = &DocumentIndex{
			Documents: make([]DocumentIndexEntry, 0, 1),
			Metadata: CacheMetadata{
				Source:       source,
				CacheVersion: CacheVersion,
				CreatedAt:    now,
			},
		}
	}
	index.Metadata.UpdatedAt = now

	entry := DocumentIndexEntry{
		EID:         doc.EID,
		Digest:      Digest(datasetTypes),
		Lab:         doc.NWBFile.Lab,
		StartTime:   doc.NWBFile.SessionStartTime,
		Sections:    doc.Sections(),
		FieldCount:  doc.FieldCount(),
		GeneratedAt: now,
	}
	if doc.Subject != nil {
		entry.Subject = doc.Subject.SubjectID
	}

	found := false
	for i, e := range index.Documents {
		if e.EID == doc.EID {
			index.Documents[i] = entry
			found = true
			break
		}
	}
	if !found {
		index.Documents = append(index.Documents, entry)
	}
	return cm.SaveIndex(index)
}

// ClearCache removes every cached document and the index
func (cm *CacheManager) ClearCache() error {
	if index, err := cm.LoadIndex(); err == nil {
		for _, e := range index.Documents {
			_ = os.Remove(cm.GetDocumentPath(e.EID))
		}
	}
	if err := os.Remove(cm.GetIndexPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CachedDocuments returns the documents of d, reading each from the cache
// when it is still valid and storing freshly built ones.
func CachedDocuments(d *Discoverer, cm *CacheManager, source string) []*Document {
	docs := d.Documents()
	if cm == nil {
		return docs
	}
	out := make([]*Document, len(docs))
	for i, doc := range docs {
		types := d.DatasetTypes(i)
		if cached, ok := cm.Lookup(doc.EID, types); ok {
			out[i] = cached
			continue
		}
		if err := cm.Store(doc, types, source); err != nil {
			internal.LogWarn("failed to cache document %s: %v", doc.EID, err)
		}
		out[i] = doc
	}
	return out
}
