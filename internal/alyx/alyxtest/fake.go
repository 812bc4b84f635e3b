// Package alyxtest provides an in-memory alyx.Client for tests.
package alyxtest

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"github.com/iblconvert/alyx2nwb/testutil"
)

// Fake is an in-memory alyx.Client. Dataset files are held as bytes in
// Item.Data so nothing touches the file system.
type Fake struct {
	mu           sync.Mutex
	sessions     []alyx.Record
	datasetTypes map[string]string
	records      map[string]alyx.Response
	files        map[string]map[string][]alyx.Item
	loads        map[string]int
	failures     map[string]error
}

var _ alyx.Client = (*Fake)(nil)

// New returns an empty fake
func New() *Fake {
	return &Fake{
		datasetTypes: make(map[string]string),
		records:      make(map[string]alyx.Response),
		files:        make(map[string]map[string][]alyx.Item),
		loads:        make(map[string]int),
		failures:     make(map[string]error),
	}
}

// AddSession registers a session record. The record must carry an "id".
func (f *Fake) AddSession(rec alyx.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, rec)
}

// SetRecord stores the response returned by Rest for an endpoint
func (f *Fake) SetRecord(endpoint string, resp alyx.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[endpoint] = resp
}

// AddDataset registers the files of a dataset type for a session
func (f *Fake) AddDataset(eid, datasetType, description string, items ...alyx.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.datasetTypes[datasetType]; !ok || description != "" {
		f.datasetTypes[datasetType] = description
	}
	if f.files[eid] == nil {
		f.files[eid] = make(map[string][]alyx.Item)
	}
	f.files[eid][datasetType] = append(f.files[eid][datasetType], items...)
}

// AddArray registers one npy file of float64 values in a collection
func (f *Fake) AddArray(eid, datasetType, collection string, shape []int, values []float64) {
	f.AddDataset(eid, datasetType, "", NPYItem(datasetType, collection, shape, values))
}

// AddFile registers one file with explicit contents
func (f *Fake) AddFile(eid, datasetType, collection, name string, data []byte) {
	f.AddDataset(eid, datasetType, "", alyx.Item{
		LocalPath:  path.Join(collection, name),
		Collection: collection,
		Data:       data,
	})
}

// FailLoad makes Load return err for a dataset type
func (f *Fake) FailLoad(datasetType string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[datasetType] = err
}

// LoadCount returns how many times a dataset type was requested
func (f *Fake) LoadCount(datasetType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[datasetType]
}

// NPYItem builds an item holding an encoded float64 npy file
func NPYItem(datasetType, collection string, shape []int, values []float64) alyx.Item {
	return alyx.Item{
		LocalPath:  path.Join(collection, datasetType+".npy"),
		Collection: collection,
		Data:       testutil.EncodeNPY(shape, values),
	}
}

// Search filters sessions by subject, lab and project
func (f *Fake) Search(ctx context.Context, q alyx.Query) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, s := range f.sessions {
		if q.Subject != "" && s.String("subject") != q.Subject {
			continue
		}
		if q.Lab != "" && s.String("lab") != q.Lab {
			continue
		}
		if q.Project != "" && s.String("project") != q.Project {
			continue
		}
		ids = append(ids, s.String("id"))
	}
	return ids, nil
}

// List implements alyx.Client
func (f *Fake) List(ctx context.Context, sessionID, category string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.session(sessionID)
	switch category {
	case alyx.CategoryDatasetType:
		var out []string
		for dt := range f.files[sessionID] {
			out = append(out, dt)
		}
		sort.Strings(out)
		return out, nil
	case alyx.CategoryUsers:
		return rec.Strings("users"), nil
	case alyx.CategorySubjects:
		return rec.Strings("subject"), nil
	case alyx.CategoryLabs:
		return rec.Strings("lab"), nil
	}
	return nil, fmt.Errorf("unknown category %q", category)
}

// Rest serves stored records, session records and the dataset type table
func (f *Fake) Rest(ctx context.Context, endpoint, action string) (alyx.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if resp, ok := f.records[endpoint]; ok {
		return resp, nil
	}
	switch {
	case strings.HasPrefix(endpoint, "sessions/"):
		id := strings.TrimPrefix(endpoint, "sessions/")
		rec := f.session(id)
		if rec == nil {
			return alyx.Response{}, fmt.Errorf("session %s not found", id)
		}
		cp := alyx.Record{}
		for k, v := range rec {
			cp[k] = v
		}
		return alyx.Response{One: cp}, nil
	case endpoint == "dataset-types":
		var names []string
		for n := range f.datasetTypes {
			names = append(names, n)
		}
		sort.Strings(names)
		out := make([]alyx.Record, 0, len(names))
		for _, n := range names {
			out = append(out, alyx.Record{"name": n, "description": f.datasetTypes[n]})
		}
		return alyx.Response{Many: out}, nil
	}
	return alyx.Response{}, fmt.Errorf("no record for %s", endpoint)
}

// Load implements alyx.Client
func (f *Fake) Load(ctx context.Context, sessionID string, datasetTypes []string, dclassOutput bool) (*alyx.Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bundle := &alyx.Bundle{SessionID: sessionID}
	for _, dt := range datasetTypes {
		f.loads[dt]++
		if err := f.failures[dt]; err != nil {
			return bundle, err
		}
		bundle.Items = append(bundle.Items, f.files[sessionID][dt]...)
	}
	return bundle, nil
}

func (f *Fake) session(id string) alyx.Record {
	for _, s := range f.sessions {
		if s.String("id") == id {
			return s
		}
	}
	return nil
}
