package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/blob"
	"github.com/nemonet1337/tireshop-ledger/pkg/cache"
	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

// Manager is the entry point for every catalog, ledger and master operation
// ตัวจัดการหลักของระบบสต็อก
type Manager struct {
	storage   Storage        // ชั้นจัดเก็บข้อมูล
	publisher EventPublisher // ผู้รับเหตุการณ์หลัง commit
	logger    *zap.Logger    // ล็อก
	config    *Config        // การตั้งค่า
	cache     *cache.Cache   // แคช
	blobs     blob.Store     // ที่เก็บรูปภาพ
	clock     identity.Clock // นาฬิกาเวลากรุงเทพ
	validate  *validator.Validate
	metrics   *ledgerMetrics
}

// Config holds the manager's tunables
// การตั้งค่าของตัวจัดการสต็อก
type Config struct {
	LowStockThreshold int64         `yaml:"low_stock_threshold"` // เกณฑ์สต็อกต่ำ
	NotifyRoles       []string      `yaml:"notify_roles"`        // บทบาทที่ได้รับแจ้งเตือน
	ContentionRetries int           `yaml:"contention_retries"`  // จำนวนครั้งที่ลองใหม่เมื่อแถวถูกล็อก
	ListingTTL        time.Duration `yaml:"listing_ttl"`
	MasterTTL         time.Duration `yaml:"master_ttl"`
	StaticTTL         time.Duration `yaml:"static_ttl"`
	AdminUsername     string        `yaml:"admin_username"`
	AdminPassword     string        `yaml:"admin_password"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		LowStockThreshold: 4,
		NotifyRoles:       []string{string(identity.RoleAdmin), string(identity.RoleEditor)},
		ContentionRetries: 1,
		ListingTTL:        cache.TTLProducts,
		MasterTTL:         cache.TTLMasters,
		StaticTTL:         cache.TTLStatic,
		AdminUsername:     "admin",
		AdminPassword:     "admin",
	}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithCache memoizes hot reads in c.
func WithCache(c *cache.Cache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithBlobStore sets the store used for movement photos.
func WithBlobStore(s blob.Store) Option {
	return func(m *Manager) { m.blobs = s }
}

// WithClock overrides the system clock.
func WithClock(c identity.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRegisterer registers the ledger metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.metrics.register(reg, m.logger) }
}

// WithPublisher replaces the default post-commit event sink.
func WithPublisher(p EventPublisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// NewManager creates a manager over storage
// สร้างตัวจัดการสต็อกใหม่
func NewManager(storage Storage, logger *zap.Logger, config *Config, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultConfig()
	}
	m := &Manager{
		storage:  storage,
		logger:   logger,
		config:   config,
		clock:    identity.SystemClock{},
		validate: newValidator(),
		metrics:  newLedgerMetrics(),
	}
	m.publisher = &storePublisher{storage: storage, logger: logger, config: config, manager: m}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Storage exposes the underlying storage to sibling packages.
func (m *Manager) Storage() Storage {
	return m.storage
}

// Clock returns the manager's clock.
func (m *Manager) Clock() identity.Clock {
	return m.clock
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *zap.Logger {
	return m.logger
}

// Cache returns the configured cache, which may be nil.
func (m *Manager) Cache() *cache.Cache {
	return m.cache
}

func (m *Manager) now() time.Time {
	return m.clock.Now()
}

// writeTx runs fn in a transaction, retrying on row lock contention.
// fn must not keep state between attempts.
func (m *Manager) writeTx(ctx context.Context, op string, fn func(q Queries) error) error {
	var err error
	for attempt := 0; attempt <= m.config.ContentionRetries; attempt++ {
		err = m.storage.InTx(ctx, fn)
		if !errors.Is(err, ErrContention) {
			break
		}
		m.metrics.contention.WithLabelValues(op).Inc()
		m.logger.Warn("product row busy, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
		)
	}
	if err != nil {
		m.observeRejection(op, err)
	}
	return err
}

// observeRejection logs and counts a failed write at the severity its kind deserves.
func (m *Manager) observeRejection(op string, err error) {
	var (
		iv *InvariantViolationError
		se *StorageError
	)
	reason := rejectionReason(err)
	m.metrics.rejections.WithLabelValues(op, reason).Inc()
	switch {
	case errors.As(err, &iv):
		m.logger.Error("ledger invariant violated, rolled back", zap.String("operation", op), zap.Error(err))
	case errors.As(err, &se), reason == "internal":
		m.logger.Error("write failed", zap.String("operation", op), zap.Error(err))
	default:
		m.logger.Warn("write rejected", zap.String("operation", op), zap.String("reason", reason), zap.Error(err))
	}
}

func rejectionReason(err error) string {
	var (
		v  *ValidationError
		nf *NotFoundError
		c  *ConflictError
		is *InsufficientStockError
		iv *InvariantViolationError
		pd *identity.PermissionDeniedError
	)
	switch {
	case errors.As(err, &is):
		return "insufficient_stock"
	case errors.As(err, &c):
		return string(c.Kind)
	case errors.As(err, &v):
		return "validation"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &pd):
		return "permission_denied"
	case errors.As(err, &iv):
		return "invariant"
	case errors.Is(err, ErrContention):
		return "contention"
	}
	return "internal"
}

// authorize checks the role matrix and counts denials.
func (m *Manager) authorize(p identity.Principal, op identity.Operation) error {
	if err := identity.Authorize(p, op); err != nil {
		m.metrics.rejections.WithLabelValues(string(op), "permission_denied").Inc()
		m.logger.Warn("permission denied",
			zap.String("username", p.Username),
			zap.String("role", string(p.Role)),
			zap.String("operation", string(op)),
		)
		return err
	}
	return nil
}

// invalidate drops cache prefixes after a commit.
func (m *Manager) invalidate(ctx context.Context, prefixes ...string) {
	m.cache.Invalidate(ctx, prefixes...)
}

func userRef(p identity.Principal) *int64 {
	if p.UserID == 0 {
		return nil
	}
	id := p.UserID
	return &id
}
