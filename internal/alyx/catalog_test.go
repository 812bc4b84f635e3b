package alyx

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/iblconvert/alyx2nwb/testutil"
)

func newTestCatalog(t *testing.T) *CatalogClient {
	t.Helper()
	db := testutil.CreateInMemoryDB(t, Schema)
	stmts := []string{
		`INSERT INTO sessions (id, subject, lab, start_time, task_protocol, project, users, record)
		 VALUES ('eid-1', 'KS022', 'cortexlab', '2019-12-10T10:00:00', '_iblrig_tasks_ephysChoiceWorld6.2.5', 'ibl_neuropixel', 'alice,bob', '{"narrative": "None"}')`,
		`INSERT INTO sessions (id, subject, lab, start_time, users)
		 VALUES ('eid-2', 'KS023', 'churchlandlab', '2020-01-05T09:00:00', 'carol')`,
		`INSERT INTO dataset_types (name, description) VALUES ('spikes.times', 'spike times'), ('trials.intervals', 'trial intervals')`,
		`INSERT INTO datasets (session_id, dataset_type, collection, local_path) VALUES
		 ('eid-1', 'spikes.times', 'alf/probe01', 'eid-1/alf/probe01/spikes.times.npy'),
		 ('eid-1', 'spikes.times', 'alf/probe00', 'eid-1/alf/probe00/spikes.times.npy'),
		 ('eid-1', 'trials.intervals', 'alf', '/abs/trials.intervals.npy')`,
		`INSERT INTO rest_records (endpoint, body) VALUES ('labs', '[{"name": "cortexlab", "institution": "UCL"}]')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seeding catalog: %v", err)
		}
	}
	return NewCatalogClient(db, "sqlite", "/data")
}

func TestCatalogClient_Search(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"all", Query{}, []string{"eid-1", "eid-2"}},
		{"subject", Query{Subject: "KS023"}, []string{"eid-2"}},
		{"date range", Query{DateFrom: "2019-12-01", DateTo: "2019-12-31"}, []string{"eid-1"}},
		{"protocol substring", Query{TaskProtocol: "ephysChoiceWorld"}, []string{"eid-1"}},
		{"no match", Query{Lab: "nolab"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Search(ctx, tt.q)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Search() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCatalogClient_List(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	got, err := c.List(ctx, "eid-1", CategoryDatasetType)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"spikes.times", "trials.intervals"}; !reflect.DeepEqual(got, want) {
		t.Errorf("List(dataset_type) = %v, want %v", got, want)
	}
	got, _ = c.List(ctx, "eid-1", CategoryUsers)
	if want := []string{"alice", "bob"}; !reflect.DeepEqual(got, want) {
		t.Errorf("List(users) = %v, want %v", got, want)
	}
	if _, err := c.List(ctx, "missing", CategoryLabs); err == nil {
		t.Error("List() for a missing session should fail")
	}
}

func TestCatalogClient_Rest(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	labs, err := c.Rest(ctx, "labs", "list")
	if err != nil || len(labs.Records()) != 1 {
		t.Fatalf("Rest(labs) = %+v, %v", labs, err)
	}

	sess, err := c.Rest(ctx, "sessions/eid-1", "list")
	if err != nil {
		t.Fatalf("Rest(session) error = %v", err)
	}
	if sess.One.String("lab") != "cortexlab" || sess.One.String("narrative") != "None" {
		t.Errorf("Rest(session) = %+v", sess.One)
	}
	if users := sess.One.Strings("users"); !reflect.DeepEqual(users, []string{"alice", "bob"}) {
		t.Errorf("session users = %v", users)
	}

	types, err := c.Rest(ctx, "dataset-types", "list")
	if err != nil || len(types.Many) != 2 {
		t.Errorf("Rest(dataset-types) = %+v, %v", types, err)
	}
}

func TestCatalogClient_Load(t *testing.T) {
	c := newTestCatalog(t)
	bundle, err := c.Load(context.Background(), "eid-1", []string{"spikes.times"}, true)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(bundle.Items) != 2 {
		t.Fatalf("Load() items = %d, want 2", len(bundle.Items))
	}
	want := filepath.Join("/data", "eid-1", "alf", "probe00", "spikes.times.npy")
	if bundle.Items[0].LocalPath != want {
		t.Errorf("Load() first path = %q, want %q", bundle.Items[0].LocalPath, want)
	}

	abs, _ := c.Load(context.Background(), "eid-1", []string{"trials.intervals"}, true)
	if abs.Items[0].LocalPath != "/abs/trials.intervals.npy" {
		t.Errorf("absolute path rewritten: %q", abs.Items[0].LocalPath)
	}
}

func TestRebind(t *testing.T) {
	c := &CatalogClient{driver: "pgx"}
	got := c.rebind("SELECT a FROM t WHERE x = ? AND y = ?")
	if want := "SELECT a FROM t WHERE x = $1 AND y = $2"; got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}
}
