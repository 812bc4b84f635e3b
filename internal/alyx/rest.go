package alyx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/iblconvert/alyx2nwb/internal"
)

// RESTConfig configures a RESTClient
type RESTConfig struct {
	BaseURL  string
	Username string
	Password string
	Token    string
	CacheDir string
	// HTTPClient defaults to a client with a five minute timeout
	HTTPClient *http.Client
}

// RESTClient implements Client against an Alyx HTTP server. Dataset files are
// downloaded into CacheDir/<session>/<collection>/<file> and reused on later
// loads.
type RESTClient struct {
	base     *url.URL
	http     *http.Client
	username string
	password string
	cacheDir string

	mu    sync.Mutex
	token string
	// session detail records, fetched once per session for List
	details map[string]Record
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient validates the configuration and builds a client. No network
// call happens until the first request.
func NewRESTClient(cfg RESTConfig) (*RESTClient, error) {
	if cfg.BaseURL == "" {
		return nil, &internal.ConfigError{Field: "alyx.base_url", Err: fmt.Errorf("empty")}
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, &internal.ConfigError{Field: "alyx.base_url", Err: err}
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	return &RESTClient{
		base:     base,
		http:     hc,
		username: cfg.Username,
		password: cfg.Password,
		cacheDir: cfg.CacheDir,
		token:    cfg.Token,
		details:  make(map[string]Record),
	}, nil
}

// Search returns the ids of sessions matching q
func (c *RESTClient) Search(ctx context.Context, q Query) ([]string, error) {
	params := url.Values{}
	if q.Subject != "" {
		params.Set("subject", q.Subject)
	}
	if q.Lab != "" {
		params.Set("lab", q.Lab)
	}
	if q.DateFrom != "" || q.DateTo != "" {
		params.Set("date_range", q.DateFrom+","+q.DateTo)
	}
	if q.TaskProtocol != "" {
		params.Set("task_protocol", q.TaskProtocol)
	}
	if q.Project != "" {
		params.Set("project", q.Project)
	}

	var records []Record
	if err := c.getJSON(ctx, "sessions", params, &records); err != nil {
		return nil, &internal.FetchError{Op: "search", Err: err}
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if id := sessionIDOf(r); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// List returns one category of names attached to a session
func (c *RESTClient) List(ctx context.Context, sessionID, category string) ([]string, error) {
	detail, err := c.sessionDetail(ctx, sessionID)
	if err != nil {
		return nil, &internal.FetchError{SessionID: sessionID, Op: "list", Err: err}
	}
	switch category {
	case CategoryDatasetType:
		seen := make(map[string]bool)
		var out []string
		raw, _ := detail["data_dataset_session_related"].([]interface{})
		for _, d := range raw {
			m, ok := d.(map[string]interface{})
			if !ok {
				continue
			}
			dt := Record(m).String("dataset_type")
			if dt != "" && !seen[dt] {
				seen[dt] = true
				out = append(out, dt)
			}
		}
		return out, nil
	case CategoryUsers:
		return detail.Strings("users"), nil
	case CategorySubjects:
		return detail.Strings("subject"), nil
	case CategoryLabs:
		return detail.Strings("lab"), nil
	default:
		return nil, &internal.FetchError{SessionID: sessionID, Op: "list", Err: fmt.Errorf("unknown category %q", category)}
	}
}

// Rest fetches an endpoint such as "labs" or "sessions/<id>". Only the "list"
// action is supported, matching how the converter reads records.
func (c *RESTClient) Rest(ctx context.Context, endpoint, action string) (Response, error) {
	if action != "list" {
		return Response{}, &internal.FetchError{Op: "rest", Err: fmt.Errorf("unsupported action %q", action)}
	}
	var raw json.RawMessage
	if err := c.getJSON(ctx, endpoint, nil, &raw); err != nil {
		return Response{}, &internal.FetchError{Op: "rest", Dataset: endpoint, Err: err}
	}
	return decodeResponse(raw)
}

// Load downloads the files of the requested dataset types for one session
func (c *RESTClient) Load(ctx context.Context, sessionID string, datasetTypes []string, dclassOutput bool) (*Bundle, error) {
	bundle := &Bundle{SessionID: sessionID}
	for _, dt := range datasetTypes {
		params := url.Values{"session": {sessionID}, "dataset_type": {dt}}
		var datasets []Record
		if err := c.getJSON(ctx, "datasets", params, &datasets); err != nil {
			return bundle, &internal.FetchError{SessionID: sessionID, Dataset: dt, Op: "load", Err: err}
		}
		for _, d := range datasets {
			item, err := c.download(ctx, sessionID, d)
			if err != nil {
				internal.LogDebug("download %s/%s failed: %v", sessionID, d.String("name"), err)
				bundle.Items = append(bundle.Items, Item{Collection: d.String("collection")})
				continue
			}
			bundle.Items = append(bundle.Items, item)
		}
	}
	return bundle, nil
}

func (c *RESTClient) download(ctx context.Context, sessionID string, d Record) (Item, error) {
	name := d.String("name")
	collection := d.String("collection")
	if collection == NullValue {
		collection = ""
	}
	dataURL := dataURLOf(d)
	if dataURL == "" || name == "" {
		return Item{}, fmt.Errorf("dataset %q has no downloadable file record", name)
	}

	dest := filepath.Join(c.cacheDir, sessionID, filepath.FromSlash(collection), name)
	if _, err := os.Stat(dest); err == nil {
		return Item{LocalPath: dest, Collection: collection}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return Item{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dataURL, nil)
	if err != nil {
		return Item{}, err
	}
	if err := c.authorize(ctx, req); err != nil {
		return Item{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Item{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Item{}, fmt.Errorf("GET %s: %s", dataURL, resp.Status)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return Item{}, err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return Item{}, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return Item{}, err
	}
	internal.LogDebug("downloaded %s (%s)", dest, humanize.Bytes(uint64(n)))
	return Item{LocalPath: dest, Collection: collection}, nil
}

func (c *RESTClient) sessionDetail(ctx context.Context, sessionID string) (Record, error) {
	c.mu.Lock()
	if d, ok := c.details[sessionID]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	var detail Record
	if err := c.getJSON(ctx, "sessions/"+sessionID, nil, &detail); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.details[sessionID] = detail
	c.mu.Unlock()
	return detail, nil
}

func (c *RESTClient) getJSON(ctx context.Context, endpoint string, params url.Values, v interface{}) error {
	ref, err := url.Parse(strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return err
	}
	u := c.base.ResolveReference(ref)
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s %s", u.Path, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// authorize adds the token header, logging in first when only a username and
// password are configured.
func (c *RESTClient) authorize(ctx context.Context, req *http.Request) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" && c.username != "" {
		var err error
		if token, err = c.login(ctx); err != nil {
			return fmt.Errorf("authenticating as %s: %w", c.username, err)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	return nil
}

func (c *RESTClient) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	if err != nil {
		return "", err
	}
	u := c.base.ResolveReference(&url.URL{Path: "auth-token"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("POST %s: %s", u.Path, resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("empty token")
	}
	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return out.Token, nil
}

func decodeResponse(raw json.RawMessage) (Response, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var many []Record
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return Response{}, err
		}
		if many == nil {
			many = []Record{}
		}
		return Response{Many: many}, nil
	}
	var one Record
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return Response{}, err
	}
	return Response{One: one}, nil
}

// sessionIDOf reads the id of a session record, falling back to the last
// segment of its url.
func sessionIDOf(r Record) string {
	if id := r.String("id"); id != "" {
		return id
	}
	u := strings.TrimRight(r.String("url"), "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}

func dataURLOf(d Record) string {
	if u := d.String("data_url"); u != "" && u != NullValue {
		return u
	}
	records, _ := d["file_records"].([]interface{})
	for _, fr := range records {
		m, ok := fr.(map[string]interface{})
		if !ok {
			continue
		}
		rec := Record(m)
		if exists, ok := rec["exists"].(bool); ok && !exists {
			continue
		}
		if u := rec.String("data_url"); u != "" && u != NullValue {
			return u
		}
	}
	return ""
}
