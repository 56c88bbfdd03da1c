package pages

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"schedulr/internal/demo"
	"schedulr/internal/livequery"
	"schedulr/internal/model"
	"schedulr/internal/router"
)

type ServiceCount struct {
	Service string `json:"service"`
	Count   int    `json:"count"`
}

// LiveStats are computed from the merged appointment list.
type LiveStats struct {
	Total            int            `json:"total"`
	Upcoming         int            `json:"upcoming"`
	Past             int            `json:"past"`
	PerService       []ServiceCount `json:"perService"`
	EstimatedRevenue string         `json:"estimatedRevenue"`
	Unpriced         int            `json:"unpriced"`
}

type AnalyticsView struct {
	Stats   demo.Analytics `json:"stats"`
	Revenue string         `json:"revenue"`
	Live    LiveStats      `json:"live"`
}

type Analytics struct {
	base
	appts    *livequery.Query[model.Appointment]
	services *livequery.Query[model.Service]
}

func NewAnalytics(deps Deps) *Analytics {
	return &Analytics{base: newBase(deps, router.Analytics)}
}

func (a *Analytics) Mount(ctx context.Context, id *model.Identity, notify Notify) {
	ctx = a.mount(ctx, id, notify)
	a.appts = a.appointmentQuery(ctx, id)
	a.services = a.serviceQuery(ctx, id, livequery.DedupeBy(func(s model.Service) string {
		return strings.ToLower(s.Name)
	}))
}

func (a *Analytics) View() any {
	v := AnalyticsView{}
	if a.deps.Demo != nil {
		v.Stats = a.deps.Demo.Analytics()
		v.Revenue = "$" + humanize.Comma(int64(v.Stats.Revenue))
	}
	if a.appts == nil {
		return v
	}
	v.Live = Summarize(a.appts.Items(), a.services.Items(), a.deps.now())
	return v
}

// Summarize counts appointments per service and prices them against the
// service list, matching by id first and then by name.
func Summarize(appts []model.Appointment, services []model.Service, now time.Time) LiveStats {
	byID := make(map[string]model.Service, len(services))
	byName := make(map[string]model.Service, len(services))
	for _, s := range services {
		byID[s.ID] = s
		byName[strings.ToLower(s.Name)] = s
	}

	upcoming, past := livequery.Split(appts, now)
	st := LiveStats{Total: len(appts), Upcoming: len(upcoming), Past: len(past)}

	counts := make(map[string]int)
	revenue := decimal.Zero
	for _, ap := range appts {
		counts[ap.Service]++
		svc, ok := byID[ap.ServiceID]
		if !ok {
			svc, ok = byName[strings.ToLower(ap.Service)]
		}
		amount, priced := svc.Price.Amount()
		if !ok || !priced {
			st.Unpriced++
			continue
		}
		revenue = revenue.Add(amount)
	}
	for name, n := range counts {
		st.PerService = append(st.PerService, ServiceCount{Service: name, Count: n})
	}
	slices.SortFunc(st.PerService, func(x, y ServiceCount) int {
		if x.Count != y.Count {
			return y.Count - x.Count
		}
		return strings.Compare(x.Service, y.Service)
	})
	st.EstimatedRevenue = "$" + humanize.CommafWithDigits(revenue.InexactFloat64(), 2)
	return st
}
