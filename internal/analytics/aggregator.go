package analytics

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crmboard/internal/cache"
	"github.com/sells-group/crmboard/pkg/kommo"
)

const dayFormat = "2006-01-02"

// Fixed analysis windows, in days. Period stats are always computed for all
// three, independently, from the same lead set.
const (
	windowDay       = 1
	windowWeek      = 7
	windowFortnight = 15
)

// Stages maps the funnel positions the aggregator cares about to the CRM's
// numeric status codes. The IDs are account-specific and configurable; the
// defaults follow the Kommo convention of 142 for the won stage.
type Stages struct {
	Incoming     int `yaml:"incoming" mapstructure:"incoming"`
	ProposalSent int `yaml:"proposal_sent" mapstructure:"proposal_sent"`
	Closing      int `yaml:"closing" mapstructure:"closing"`
	PostSale     int `yaml:"post_sale" mapstructure:"post_sale"`
	Lost         int `yaml:"lost" mapstructure:"lost"`
}

// DefaultStages returns the stage IDs of a stock Kommo pipeline.
func DefaultStages() Stages {
	return Stages{
		Incoming:     1,
		ProposalSent: 2,
		Closing:      142,
		PostSale:     144,
		Lost:         143,
	}
}

// IsSale reports whether a status code is one of the two terminal sale
// stages. Only these two count; nothing else does.
func (s Stages) IsSale(statusID int) bool {
	return statusID == s.Closing || statusID == s.PostSale
}

// IsProposal reports whether a status code is the proposal-sent stage.
func (s Stages) IsProposal(statusID int) bool {
	return statusID == s.ProposalSent
}

// Label returns the Portuguese funnel name for a status code.
func (s Stages) Label(statusID int) string {
	switch statusID {
	case s.Incoming:
		return "entrada"
	case s.ProposalSent:
		return "proposta enviada"
	case s.Closing:
		return "fechamento"
	case s.PostSale:
		return "pós-venda"
	case s.Lost:
		return "perdido"
	default:
		return "desconhecido"
	}
}

// LeadSource supplies leads for a created_at range. *kommo.Client satisfies it.
type LeadSource interface {
	FetchLeads(ctx context.Context, start, end time.Time) ([]kommo.Lead, error)
}

// PeriodStats are the aggregates of one fixed analysis window.
type PeriodStats struct {
	WindowDays     int     `json:"window_days"`
	TotalLeads     int     `json:"total_leads"`
	Sales          int     `json:"sales"`
	SalesValue     float64 `json:"sales_value"`
	SalesValueFmt  string  `json:"sales_value_formatted"`
	ConversionRate string  `json:"conversion_rate"`
}

// DailyStats are the aggregates of one calendar day. A lead contributes to
// its creation day as a new lead and to its update day (when different) as an
// interaction; the day's total counts distinct leads across both.
type DailyStats struct {
	Date          string  `json:"date"`
	TotalLeads    int     `json:"total_leads"`
	NewLeads      int     `json:"new_leads"`
	Interactions  int     `json:"interactions"`
	Proposals     int     `json:"proposals"`
	Sales         int     `json:"sales"`
	SalesValue    float64 `json:"sales_value"`
	SalesValueFmt string  `json:"sales_value_formatted"`
}

// DimensionStats are the aggregates of one vendor or persona group.
type DimensionStats struct {
	Name           string  `json:"name"`
	TotalLeads     int     `json:"total_leads"`
	Proposals      int     `json:"proposals"`
	Sales          int     `json:"sales"`
	SalesValue     float64 `json:"sales_value"`
	SalesValueFmt  string  `json:"sales_value_formatted"`
	ConversionRate string  `json:"conversion_rate"`
	ProposalRate   string  `json:"proposal_rate"`
}

// Analytics is one complete aggregation pass over a lead set. Instances are
// immutable once computed and shared through the result cache.
type Analytics struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Day         PeriodStats                `json:"day"`
	Week        PeriodStats                `json:"week"`
	Fortnight   PeriodStats                `json:"fortnight"`
	Daily       map[string]*DailyStats     `json:"daily"`
	Vendors     map[string]*DimensionStats `json:"vendors"`
	Personas    map[string]*DimensionStats `json:"personas"`
}

// EnrichedLead is the derived copy of a lead carrying its computed value,
// status label and classified dimensions. The underlying lead is never
// mutated. Classification happens once per lead per aggregation pass and is
// reused across every stat bucket.
type EnrichedLead struct {
	kommo.Lead

	Value       float64 `json:"value"`
	StatusLabel string  `json:"status_label"`
	IsSale      bool    `json:"is_sale"`
	IsProposal  bool    `json:"is_proposal"`
	Vendor      string  `json:"vendor,omitempty"`
	Persona     string  `json:"persona,omitempty"`
	Source      string  `json:"source,omitempty"`
}

// Aggregator turns fetched leads into the four stat buckets. It shares one
// result cache across concurrent callers; a cached result within TTL is
// returned without touching the CRM.
type Aggregator struct {
	source LeadSource
	cache  *cache.Cache[*Analytics]
	stages Stages
	now    func() time.Time
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithStages overrides the default stage IDs.
func WithStages(s Stages) AggregatorOption {
	return func(a *Aggregator) { a.stages = s }
}

// WithResultCache overrides the default 5-minute result cache.
func WithResultCache(c *cache.Cache[*Analytics]) AggregatorOption {
	return func(a *Aggregator) { a.cache = c }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator reading leads from source.
func NewAggregator(source LeadSource, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		source: source,
		cache:  cache.New[*Analytics](cache.DefaultTTL, 64),
		stages: DefaultStages(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetComprehensiveAnalytics computes period, daily, vendor and persona stats
// over the leads created in the last periodDays days. The range is widened to
// the fortnight window so every fixed window is fully populated. The call
// never partially succeeds: a fetch failure returns no stats at all.
func (a *Aggregator) GetComprehensiveAnalytics(ctx context.Context, periodDays int) (*Analytics, error) {
	if periodDays < windowFortnight {
		periodDays = windowFortnight
	}
	end := a.now()
	start := end.AddDate(0, 0, -periodDays)
	key := cache.Key("analytics", strconv.Itoa(periodDays), start.Format(dayFormat), end.Format(dayFormat))
	return a.compute(ctx, key, start, end)
}

// GetAnalytics computes the same stat buckets over an explicit date range.
// Period windows are measured back from the range end.
func (a *Aggregator) GetAnalytics(ctx context.Context, start, end time.Time) (*Analytics, error) {
	if end.Before(start) {
		return nil, eris.Errorf("analytics: range end %s before start %s", end.Format(dayFormat), start.Format(dayFormat))
	}
	key := cache.Key("analytics-range", start.Format(dayFormat), end.Format(dayFormat))
	return a.compute(ctx, key, start, end)
}

func (a *Aggregator) compute(ctx context.Context, key string, start, end time.Time) (*Analytics, error) {
	if result, ok := a.cache.Get(key); ok {
		zap.L().Debug("analytics: cache hit", zap.String("key", key))
		return result, nil
	}

	leads, err := a.source.FetchLeads(ctx, start, end)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: fetch leads")
	}

	enriched := make([]EnrichedLead, len(leads))
	for i, l := range leads {
		enriched[i] = a.Enrich(l)
	}

	result := &Analytics{
		GeneratedAt: a.now().UTC(),
		Day:         a.periodStats(enriched, end, windowDay),
		Week:        a.periodStats(enriched, end, windowWeek),
		Fortnight:   a.periodStats(enriched, end, windowFortnight),
		Daily:       a.dailyStats(enriched),
		Vendors:     a.dimensionStats(enriched, func(l EnrichedLead) string { return l.Vendor }),
		Personas:    a.dimensionStats(enriched, func(l EnrichedLead) string { return l.Persona }),
	}

	a.cache.Put(key, result)
	zap.L().Info("analytics: aggregation complete",
		zap.Int("leads", len(leads)),
		zap.Int("vendors", len(result.Vendors)),
		zap.Int("personas", len(result.Personas)),
	)
	return result, nil
}

// Enrich derives the computed copy of a lead: its monetary value, sale and
// proposal flags, status label and first-match tag dimensions.
func (a *Aggregator) Enrich(l kommo.Lead) EnrichedLead {
	e := EnrichedLead{
		Lead:        l,
		Value:       LeadValue(l),
		StatusLabel: a.stages.Label(l.StatusID),
		IsSale:      a.stages.IsSale(l.StatusID),
		IsProposal:  a.stages.IsProposal(l.StatusID),
	}

	// First tag of each dimension wins; later tags of the same dimension
	// are ignored rather than aggregated.
	for _, tag := range l.Embedded.Tags {
		c := Classify(tag.Name)
		switch c.Dimension {
		case DimensionSalesperson:
			if e.Vendor == "" {
				e.Vendor = c.Label
			}
		case DimensionPersona:
			if e.Persona == "" {
				e.Persona = c.Label
			}
		case DimensionSource:
			if e.Source == "" {
				e.Source = c.Label
			}
		}
	}
	return e
}

// LeadValue derives a lead's monetary value. Catalog line items take
// precedence: their price×quantity sum is the value whenever it is non-zero,
// even if it differs from the lead's own price. Only a zero catalog sum (or
// no items) falls back to the price field.
func LeadValue(l kommo.Lead) float64 {
	var sum float64
	for _, el := range l.Embedded.CatalogElements {
		sum += el.Metadata.Price * el.Metadata.Quantity
	}
	if sum != 0 {
		return sum
	}
	return l.Price
}

func (a *Aggregator) periodStats(leads []EnrichedLead, end time.Time, windowDays int) PeriodStats {
	cutoff := end.AddDate(0, 0, -windowDays).Unix()

	ps := PeriodStats{WindowDays: windowDays}
	for _, l := range leads {
		if l.CreatedAt < cutoff {
			continue
		}
		ps.TotalLeads++
		if l.IsSale {
			ps.Sales++
			ps.SalesValue += l.Value
		}
	}
	ps.ConversionRate = Percent(ps.Sales, ps.TotalLeads)
	ps.SalesValueFmt = Currency(ps.SalesValue)
	return ps
}

// dailyAcc accumulates one day's counters plus the distinct lead-id set that
// becomes the day's total.
type dailyAcc struct {
	stats DailyStats
	seen  map[int64]struct{}
}

func (a *Aggregator) dailyStats(leads []EnrichedLead) map[string]*DailyStats {
	days := make(map[string]*dailyAcc)

	bucket := func(day string) *dailyAcc {
		acc, ok := days[day]
		if !ok {
			acc = &dailyAcc{stats: DailyStats{Date: day}, seen: make(map[int64]struct{})}
			days[day] = acc
		}
		return acc
	}

	for _, l := range leads {
		createdDay := time.Unix(l.CreatedAt, 0).UTC().Format(dayFormat)
		created := bucket(createdDay)
		created.stats.NewLeads++
		created.seen[l.ID] = struct{}{}

		if l.IsProposal {
			created.stats.Proposals++
		}
		if l.IsSale {
			created.stats.Sales++
			created.stats.SalesValue += l.Value
		}

		// An update on a later day is an interaction in that day's bucket.
		// Same-day updates don't double-count the lead in the day total.
		if l.UpdatedAt > 0 {
			updatedDay := time.Unix(l.UpdatedAt, 0).UTC().Format(dayFormat)
			if updatedDay != createdDay {
				updated := bucket(updatedDay)
				updated.stats.Interactions++
				updated.seen[l.ID] = struct{}{}
			}
		}
	}

	result := make(map[string]*DailyStats, len(days))
	for day, acc := range days {
		acc.stats.TotalLeads = len(acc.seen)
		acc.stats.SalesValueFmt = Currency(acc.stats.SalesValue)
		stats := acc.stats
		result[day] = &stats
	}
	return result
}

// dimensionStats groups leads by the single matched tag of one dimension.
// Leads without a match are excluded from the groups but still count in the
// period and daily totals.
func (a *Aggregator) dimensionStats(leads []EnrichedLead, keyOf func(EnrichedLead) string) map[string]*DimensionStats {
	groups := make(map[string]*DimensionStats)

	for _, l := range leads {
		name := keyOf(l)
		if name == "" {
			continue
		}
		g, ok := groups[name]
		if !ok {
			g = &DimensionStats{Name: name}
			groups[name] = g
		}
		g.TotalLeads++
		if l.IsProposal {
			g.Proposals++
		}
		if l.IsSale {
			g.Sales++
			g.SalesValue += l.Value
		}
	}

	for _, g := range groups {
		g.ConversionRate = Percent(g.Sales, g.TotalLeads)
		g.ProposalRate = Percent(g.Proposals, g.TotalLeads)
		g.SalesValueFmt = Currency(g.SalesValue)
	}
	return groups
}
