// Package tasksource is the HTTP client for the external task API.
//
//	GET {base}/groups              -> [{id, name}]
//	GET {base}/tasks?group=<id>    -> [{id, deadline, responsible, ...}]
package tasksource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logx "deadlinebot/pkg/logx"
)

var ErrBadStatus = errors.New("task source: unexpected status")

type Config struct {
	BaseURL string
	// Token is sent as "Authorization: Bearer <token>" when set.
	Token   string
	Timeout time.Duration
	// PageSize > 0 enables page/per_page pagination on /tasks.
	PageSize int
	// MaxPages bounds pagination as a guard against a source that never
	// returns a short page.
	MaxPages int
	// Log receives per-task decode problems. Zero means discard.
	Log logx.Logger
}

type Client struct {
	base *url.URL
	cfg  Config
	http *http.Client
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("task source base url is empty")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("task source base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("task source base url: unsupported scheme %q", u.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 200
	}
	if cfg.Log.IsZero() {
		cfg.Log = logx.Nop()
	}
	return &Client{base: u, cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Groups lists the source partitions.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	var out []Group
	if err := c.get(ctx, "groups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tasks returns every task of one group, following pagination when enabled.
func (c *Client) Tasks(ctx context.Context, g Group) ([]Task, error) {
	q := url.Values{"group": {g.ID.String()}}
	if c.cfg.PageSize <= 0 {
		var raw []json.RawMessage
		if err := c.get(ctx, "tasks", q, &raw); err != nil {
			return nil, err
		}
		return withGroup(c.decodeTasks(raw, g), g), nil
	}

	var all []Task
	for page := 1; page <= c.cfg.MaxPages; page++ {
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(c.cfg.PageSize))
		var batch []json.RawMessage
		if err := c.get(ctx, "tasks", q, &batch); err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, c.decodeTasks(batch, g)...)
		if len(batch) < c.cfg.PageSize {
			return withGroup(all, g), nil
		}
	}
	return nil, fmt.Errorf("tasks for group %s: more than %d pages", g.ID, c.cfg.MaxPages)
}

// decodeTasks decodes each task on its own so one malformed entry drops only
// itself, not the whole group.
func (c *Client) decodeTasks(raw []json.RawMessage, g Group) []Task {
	out := make([]Task, 0, len(raw))
	for i, r := range raw {
		var t Task
		if err := json.Unmarshal(r, &t); err != nil {
			c.cfg.Log.Debug("task skipped: undecodable",
				logx.String("group", g.ID.String()), logx.Int("index", i), logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	return out
}

func withGroup(ts []Task, g Group) []Task {
	for i := range ts {
		ts[i].Group = g
	}
	return ts
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base.JoinPath(path)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if tok := strings.TrimSpace(c.cfg.Token); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: GET %s: http %d: %s", ErrBadStatus, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
