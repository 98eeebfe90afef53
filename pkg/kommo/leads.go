package kommo

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// leadPageSize is the fixed page size for lead queries. A page with fewer
// records than this marks the end of the result set; there is no separate
// total-count check.
const leadPageSize = 50

// leadExpansion lists the relations requested inline with each lead page so
// tags, catalog items and contacts arrive without follow-up calls.
const leadExpansion = "contacts,catalog_elements,loss_reason"

type leadsPage struct {
	Page     int `json:"_page"`
	Embedded struct {
		Leads []Lead `json:"leads"`
	} `json:"_embedded"`
}

type pipelinesResponse struct {
	Embedded struct {
		Pipelines []Pipeline `json:"pipelines"`
	} `json:"_embedded"`
}

type tagsResponse struct {
	Embedded struct {
		Tags []Tag `json:"tags"`
	} `json:"_embedded"`
}

type customFieldsResponse struct {
	Embedded struct {
		CustomFields []CustomField `json:"custom_fields"`
	} `json:"_embedded"`
}

// LeadRangeKey derives the deterministic cache signature for a created_at
// range query. Semantically distinct ranges never collide.
func LeadRangeKey(start, end time.Time) string {
	return "leads:" + strconv.FormatInt(start.Unix(), 10) + ":" + strconv.FormatInt(end.Unix(), 10)
}

// FetchLeads returns every lead created within [start, end], both inclusive,
// ordered as the CRM returns them. Pages of 50 are fetched until a short page
// signals the end. The attached cache is consulted first; a hit within TTL
// returns the cached sequence unmodified and issues no remote calls. Any page
// failure fails the whole fetch.
func (c *Client) FetchLeads(ctx context.Context, start, end time.Time) ([]Lead, error) {
	key := LeadRangeKey(start, end)
	if c.leadCache != nil {
		if leads, ok := c.leadCache.Get(key); ok {
			zap.L().Debug("kommo: lead cache hit", zap.String("key", key))
			return leads, nil
		}
	}

	var all []Lead
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(leadPageSize))
		q.Set("filter[created_at][from]", strconv.FormatInt(start.Unix(), 10))
		q.Set("filter[created_at][to]", strconv.FormatInt(end.Unix(), 10))
		q.Set("with", leadExpansion)

		var resp leadsPage
		if err := c.get(ctx, "/api/v4/leads", q, &resp); err != nil {
			return nil, eris.Wrap(err, "kommo: fetch leads")
		}

		all = append(all, resp.Embedded.Leads...)
		if len(resp.Embedded.Leads) < leadPageSize {
			break
		}
	}

	zap.L().Debug("kommo: leads fetched",
		zap.Int("count", len(all)),
		zap.Time("from", start),
		zap.Time("to", end),
	)

	if c.leadCache != nil {
		c.leadCache.Put(key, all)
	}
	return all, nil
}

// FetchPipelines returns the account's sales funnels with their stages.
func (c *Client) FetchPipelines(ctx context.Context) ([]Pipeline, error) {
	var resp pipelinesResponse
	if err := c.get(ctx, "/api/v4/leads/pipelines", nil, &resp); err != nil {
		return nil, eris.Wrap(err, "kommo: fetch pipelines")
	}
	return resp.Embedded.Pipelines, nil
}

// FetchTags returns the tag definitions on the leads entity.
func (c *Client) FetchTags(ctx context.Context) ([]Tag, error) {
	var resp tagsResponse
	if err := c.get(ctx, "/api/v4/leads/tags", nil, &resp); err != nil {
		return nil, eris.Wrap(err, "kommo: fetch tags")
	}
	return resp.Embedded.Tags, nil
}

// FetchCustomFields returns the custom field definitions on the leads entity.
func (c *Client) FetchCustomFields(ctx context.Context) ([]CustomField, error) {
	var resp customFieldsResponse
	if err := c.get(ctx, "/api/v4/leads/custom_fields", nil, &resp); err != nil {
		return nil, eris.Wrap(err, "kommo: fetch custom fields")
	}
	return resp.Embedded.CustomFields, nil
}

// FetchAccount returns the CRM account summary.
func (c *Client) FetchAccount(ctx context.Context) (*Account, error) {
	var acc Account
	if err := c.get(ctx, "/api/v4/account", nil, &acc); err != nil {
		return nil, eris.Wrap(err, "kommo: fetch account")
	}
	return &acc, nil
}
