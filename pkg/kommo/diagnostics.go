package kommo

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProbeResult reports one connectivity/permission probe.
type ProbeResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// DiagnosticReport bundles the independent probes run against the CRM.
type DiagnosticReport struct {
	CheckedAt    time.Time     `json:"checked_at"`
	Connectivity ProbeResult   `json:"connectivity"`
	Account      ProbeResult   `json:"account"`
	Leads        ProbeResult   `json:"leads"`
	CustomFields ProbeResult   `json:"custom_fields"`
	Tags         ProbeResult   `json:"tags"`
	Probes       []ProbeResult `json:"probes"`
}

// Healthy reports whether every probe passed.
func (r *DiagnosticReport) Healthy() bool {
	for _, p := range r.Probes {
		if !p.Success {
			return false
		}
	}
	return true
}

// RunDiagnostics runs the connectivity, account, lead-list, custom-field and
// tag probes in parallel. A failing probe is recorded in the report, not
// returned as an error; the call itself only fails on a cancelled context.
func (c *Client) RunDiagnostics(ctx context.Context) (*DiagnosticReport, error) {
	report := &DiagnosticReport{CheckedAt: time.Now().UTC()}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		report.Connectivity = c.probe("connectivity", func() error {
			return c.probeConnectivity(ctx)
		})
		return nil
	})
	g.Go(func() error {
		report.Account = c.probe("account", func() error {
			_, err := c.FetchAccount(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		report.Leads = c.probe("leads", func() error {
			q := url.Values{}
			q.Set("page", "1")
			q.Set("limit", strconv.Itoa(1))
			var resp leadsPage
			return c.get(ctx, "/api/v4/leads", q, &resp)
		})
		return nil
	})
	g.Go(func() error {
		report.CustomFields = c.probe("custom_fields", func() error {
			_, err := c.FetchCustomFields(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		report.Tags = c.probe("tags", func() error {
			_, err := c.FetchTags(ctx)
			return err
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.Probes = []ProbeResult{
		report.Connectivity,
		report.Account,
		report.Leads,
		report.CustomFields,
		report.Tags,
	}
	return report, nil
}

func (c *Client) probe(name string, fn func() error) ProbeResult {
	started := time.Now()
	err := fn()
	res := ProbeResult{
		Name:      name,
		Success:   err == nil,
		LatencyMS: time.Since(started).Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// probeConnectivity checks plain HTTP reachability of the account host. Any
// HTTP response, authorized or not, counts as connected.
func (c *Client) probeConnectivity(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v4/account", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	resp.Body.Close() //nolint:errcheck
	return nil
}
