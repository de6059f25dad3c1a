package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

// Service builds reports from the ledger
// บริการสร้างรายงาน
type Service struct {
	manager  *inventory.Manager
	logger   *zap.Logger
	duration *prometheus.HistogramVec
}

// NewService creates a report service on top of manager. reg may be nil.
func NewService(manager *inventory.Manager, logger *zap.Logger, reg prometheus.Registerer) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		manager: manager,
		logger:  logger,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tireshop",
			Subsystem: "report",
			Name:      "build_duration_seconds",
			Help:      "Time spent building reports by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg != nil {
		if err := reg.Register(s.duration); err != nil {
			logger.Warn("report metric not registered", zap.Error(err))
		}
	}
	return s
}

func (s *Service) authorize(p identity.Principal, op identity.Operation) error {
	if err := identity.Authorize(p, op); err != nil {
		s.logger.Warn("permission denied",
			zap.String("username", p.Username),
			zap.String("role", string(p.Role)),
			zap.String("operation", string(op)),
		)
		return err
	}
	return nil
}

// Daily builds the report of Bangkok day date: balances grouped by brand (or
// category and brand) plus every raw movement of the day grouped by product
// รายงานประจำวัน
func (s *Service) Daily(ctx context.Context, p identity.Principal, date time.Time) (*Report, error) {
	if err := s.authorize(p, identity.OpViewReports); err != nil {
		return nil, err
	}
	return s.build(ctx, p, KindDaily, date, date)
}

// Period builds the report of Bangkok days from..to inclusive with the
// channel breakdown
// รายงานตามช่วงเวลา
func (s *Service) Period(ctx context.Context, p identity.Principal, from, to time.Time) (*Report, error) {
	if err := s.authorize(p, identity.OpViewReports); err != nil {
		return nil, err
	}
	return s.build(ctx, p, KindPeriod, from, to)
}

// Snapshot is the period report of one day, as captured when a reconciliation
// completes. The caller has already been authorized for the workflow.
func (s *Service) Snapshot(ctx context.Context, p identity.Principal, date time.Time) (*Report, error) {
	return s.build(ctx, p, KindPeriod, date, date)
}

func (s *Service) build(ctx context.Context, p identity.Principal, kind Kind, from, to time.Time) (*Report, error) {
	start, end, err := identity.RangeBounds(from, to)
	if err != nil {
		return nil, inventory.NewValidationError("from", err.Error(), identity.FormatDate(from))
	}
	timer := prometheus.NewTimer(s.duration.WithLabelValues(string(kind)))
	defer timer.ObserveDuration()

	names, err := s.loadNames(ctx, p)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Kind:        kind,
		FromDate:    start,
		ToDate:      end.AddDate(0, 0, -1),
		GeneratedAt: s.manager.Clock().Now(),
	}
	channels := newChannelBreakdown(names)
	for _, family := range inventory.Families {
		w, err := s.manager.LoadWindow(ctx, family, start, end)
		if err != nil {
			return nil, err
		}
		section, err := s.section(w, names, kind == KindDaily)
		if err != nil {
			return nil, err
		}
		if kind == KindPeriod {
			channels.add(w)
		}
		r.Sections = append(r.Sections, *section)

		var closing int64
		for _, v := range w.Closings {
			closing += v
		}
		var opening int64
		for _, v := range w.Openings {
			opening += v
		}
		if opening != section.Total.Opening || closing != section.Total.Closing {
			return nil, s.violation(fmt.Sprintf("%s totals opening %d/%d closing %d/%d",
				family, section.Total.Opening, opening, section.Total.Closing, closing))
		}
		r.GrandTotal.Add(section.Total)
	}
	if kind == KindPeriod {
		r.Channels = channels.summaries()
	}
	if !r.GrandTotal.Balanced() {
		return nil, s.violation(fmt.Sprintf("grand total %+v does not balance", r.GrandTotal))
	}

	s.logger.Info("report built",
		zap.String("kind", string(kind)),
		zap.String("from", identity.FormatDate(r.FromDate)),
		zap.String("to", identity.FormatDate(r.ToDate)),
		zap.Int64("closing", r.GrandTotal.Closing),
	)
	return r, nil
}

func (s *Service) violation(detail string) error {
	s.logger.Error("report does not reconcile with ledger", zap.String("detail", detail))
	return &inventory.InvariantViolationError{Invariant: "period_balance", Detail: detail}
}

// section rolls one family's window into grouped rows.
func (s *Service) section(w *inventory.LedgerWindow, names *masterNames, withMovements bool) (*FamilySection, error) {
	byProduct := make(map[int64][]inventory.Movement)
	for _, mv := range w.Movements {
		byProduct[mv.ProductID] = append(byProduct[mv.ProductID], mv)
	}

	groups := make(map[string]*Group)
	section := &FamilySection{Family: w.Family}
	for _, prod := range w.Products {
		b := prod.Base()
		moves := byProduct[b.ID]
		if !w.Active(prod, len(moves) > 0) {
			continue
		}
		row := Row{
			Product:   inventory.Ref(prod),
			Name:      prod.DisplayName(),
			Brand:     prod.GroupBrand(),
			IsDeleted: b.IsDeleted,
			Aggregate: inventory.NewAggregate(w.Openings[b.ID]),
		}
		if sp, ok := prod.(*inventory.SparePart); ok {
			row.Category = names.category(sp.CategoryID)
		}
		for i := range moves {
			row.Apply(&moves[i])
		}
		if row.Closing != w.Closings[b.ID] {
			return nil, s.violation(fmt.Sprintf("%s closing %d but ledger sums to %d",
				row.Product, row.Closing, w.Closings[b.ID]))
		}

		key := row.Category + "\x00" + row.Brand
		g, ok := groups[key]
		if !ok {
			g = &Group{Category: row.Category, Brand: row.Brand}
			groups[key] = g
		}
		g.Rows = append(g.Rows, row)
		g.Subtotal.Add(row.Aggregate)
		section.Total.Add(row.Aggregate)

		if withMovements && len(moves) > 0 {
			section.Movements = append(section.Movements, ProductMovements{
				Product:   row.Product,
				Name:      row.Name,
				Movements: moves,
			})
		}
	}

	section.Groups = make([]Group, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g.Rows, func(i, j int) bool {
			if g.Rows[i].Name != g.Rows[j].Name {
				return g.Rows[i].Name < g.Rows[j].Name
			}
			return g.Rows[i].Product.ID < g.Rows[j].Product.ID
		})
		section.Groups = append(section.Groups, *g)
	}
	sort.Slice(section.Groups, func(i, j int) bool {
		gi, gj := section.Groups[i], section.Groups[j]
		if gi.Category != gj.Category {
			return gi.Category < gj.Category
		}
		return strings.ToLower(gi.Brand) < strings.ToLower(gj.Brand)
	})
	sort.Slice(section.Movements, func(i, j int) bool {
		return section.Movements[i].Name < section.Movements[j].Name
	})
	return section, nil
}

// masterNames resolves the foreign keys a report prints.
type masterNames struct {
	channels   map[int64]string
	platforms  map[int64]string
	customers  map[int64]string
	categories []inventory.Category
}

func (s *Service) loadNames(ctx context.Context, p identity.Principal) (*masterNames, error) {
	n := &masterNames{}
	for kind, dst := range map[inventory.MasterKind]*map[int64]string{
		inventory.MasterChannel:  &n.channels,
		inventory.MasterPlatform: &n.platforms,
		inventory.MasterCustomer: &n.customers,
	} {
		rows, err := s.manager.ListMasters(ctx, p, kind)
		if err != nil {
			return nil, err
		}
		m := make(map[int64]string, len(rows))
		for _, r := range rows {
			m[r.ID] = r.Name
		}
		*dst = m
	}
	cats, err := s.manager.Storage().ListCategories(ctx)
	if err != nil {
		return nil, inventory.NewStorageError("list_categories", err)
	}
	n.categories = cats
	return n, nil
}

func (n *masterNames) category(id *int64) string {
	if id == nil {
		return inventory.NoCategory
	}
	path := inventory.CategoryPath(n.categories, *id)
	if len(path) == 0 {
		return inventory.NoCategory
	}
	return strings.Join(path, " / ")
}

func lookup(names map[int64]string, id *int64) string {
	if id == nil {
		return ""
	}
	if name, ok := names[*id]; ok {
		return name
	}
	return fmt.Sprintf("#%d", *id)
}
