package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"golang.org/x/sync/errgroup"
)

// fetchConcurrency bounds the per-session record fetches
const fetchConcurrency = 4

// attribute is one dataset of an object, e.g. "times" of "spikes"
type attribute struct {
	Name        string
	Description string
}

// sessionInfo is everything fetched about one session
type sessionInfo struct {
	eid        string
	record     alyx.Record
	subject    alyx.Record
	users      []string
	types      []string
	objects    map[string][]attribute
	insertions []alyx.Record
}

// Discoverer inspects the database for a list of sessions and builds one
// Document per session. All records are fetched at construction; documents
// are built on first use and shared afterwards.
type Discoverer struct {
	client       alyx.Client
	descriptions map[string]string
	labs         []alyx.Record
	sessions     []*sessionInfo

	once sync.Once
	docs []*Document
}

// NewDiscoverer fetches the metadata of the given sessions. When eids is
// empty the sessions matching q are used.
func NewDiscoverer(ctx context.Context, client alyx.Client, eids []string, q alyx.Query) (*Discoverer, error) {
	if client == nil {
		return nil, &internal.ConfigError{Field: "client", Err: fmt.Errorf("nil")}
	}
	if len(eids) == 0 {
		found, err := client.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, &internal.ConfigError{Field: "eid", Err: fmt.Errorf("no session matches the search")}
		}
		if len(found) > 1 {
			internal.LogInfo("%d sessions found, generating metadata for all", len(found))
		}
		eids = found
	}

	d := &Discoverer{client: client, sessions: make([]*sessionInfo, len(eids))}

	resp, err := client.Rest(ctx, "dataset-types", "list")
	if err != nil {
		return nil, err
	}
	d.descriptions = make(map[string]string)
	for _, r := range resp.Records() {
		d.descriptions[r.String("name")] = r.String("description")
	}

	if labs, err := client.Rest(ctx, "labs", "list"); err != nil {
		internal.LogWarn("could not read the lab table: %v", err)
	} else {
		d.labs = labs.Records()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, eid := range eids {
		i, eid := i, eid
		g.Go(func() error {
			info, err := d.fetchSession(gctx, eid)
			if err != nil {
				return err
			}
			d.sessions[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Discoverer) fetchSession(ctx context.Context, eid string) (*sessionInfo, error) {
	info := &sessionInfo{eid: eid}

	resp, err := d.client.Rest(ctx, "sessions/"+eid, "list")
	if err != nil {
		return nil, err
	}
	info.record = resp.One
	if info.record == nil {
		info.record = alyx.Record{}
	}
	alyx.NormalizeNulls(info.record)

	if nickname := info.record.String("subject"); nickname != "" && nickname != alyx.NullValue {
		sub, err := d.client.Rest(ctx, "subjects/"+nickname, "list")
		if err != nil {
			internal.LogDebug("no subject record for %s: %v", nickname, err)
		} else if sub.One != nil {
			info.subject = alyx.NormalizeNulls(sub.One)
		}
	}

	if info.types, err = d.client.List(ctx, eid, alyx.CategoryDatasetType); err != nil {
		return nil, err
	}
	if info.users, err = d.client.List(ctx, eid, alyx.CategoryUsers); err != nil {
		internal.LogDebug("no user list for %s: %v", eid, err)
	}
	if len(info.users) == 0 {
		info.users = info.record.Strings("users")
	}

	if ins, err := d.client.Rest(ctx, "insertions?session="+eid, "list"); err == nil {
		info.insertions = ins.Records()
	} else {
		internal.LogDebug("no probe insertions for %s: %v", eid, err)
	}

	info.objects = groupObjects(info.types, d.descriptions)
	internal.LogDebug("session %s: %d dataset types in %d objects", eid, len(info.types), len(info.objects))
	return info, nil
}

// groupObjects splits "object.attribute" dataset types into per-object
// attribute lists, keeping the listing order.
func groupObjects(types []string, descriptions map[string]string) map[string][]attribute {
	out := make(map[string][]attribute)
	for _, dt := range types {
		obj, attr := alyx.Object(dt), alyx.Attribute(dt)
		if attr == "" {
			continue
		}
		out[obj] = append(out[obj], attribute{Name: attr, Description: descriptions[dt]})
	}
	return out
}

// objectKey strips a leading "_<namespace>_" so "_ibl_trials" matches "trials"
func objectKey(obj string) string {
	if !strings.HasPrefix(obj, "_") {
		return obj
	}
	if i := strings.Index(obj[1:], "_"); i >= 0 {
		return obj[i+2:]
	}
	return obj
}

// findObject returns the dataset object name matching a section key
func (s *sessionInfo) findObject(key string) (string, bool) {
	names := make([]string, 0, len(s.objects))
	for obj := range s.objects {
		names = append(names, obj)
	}
	sort.Strings(names)
	for _, obj := range names {
		if objectKey(obj) == key {
			return obj, true
		}
	}
	return "", false
}

// EIDs returns the session ids in selection order
func (d *Discoverer) EIDs() []string {
	out := make([]string, len(d.sessions))
	for i, s := range d.sessions {
		out[i] = s.eid
	}
	return out
}

// Len is the number of sessions
func (d *Discoverer) Len() int {
	return len(d.sessions)
}

// Client returns the database client the discoverer reads from
func (d *Discoverer) Client() alyx.Client {
	return d.client
}

// DatasetTypes returns the dataset types listed for session i
func (d *Discoverer) DatasetTypes(i int) []string {
	if i < 0 || i >= len(d.sessions) {
		return nil
	}
	return d.sessions[i].types
}

// Documents returns the complete metadata of every session
func (d *Discoverer) Documents() []*Document {
	d.once.Do(func() {
		d.docs = make([]*Document, len(d.sessions))
		for i, s := range d.sessions {
			d.docs[i] = d.build(s)
		}
	})
	return d.docs
}

// Document returns the metadata of session i
func (d *Discoverer) Document(i int) (*Document, error) {
	docs := d.Documents()
	if i < 0 || i >= len(docs) {
		return nil, &internal.ConfigError{Field: "index", Err: fmt.Errorf("%d out of range, %d sessions found", i, len(docs))}
	}
	return docs[i], nil
}
