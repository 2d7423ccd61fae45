package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"schoolhub/internal/metrics"
)

// DefaultTables lists the tenant-owned tables a resource id may be validated against.
var DefaultTables = []string{
	"students",
	"faculty",
	"classes",
	"courses",
	"subjects",
	"attendance",
	"exams",
	"fees",
	"content",
}

var ErrMalformedID = errors.New("malformed_resource_id")

type Outcome int

const (
	Denied Outcome = iota
	Authorized
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Authorized:
		return "authorized"
	case Failed:
		return "failed"
	default:
		return "denied"
	}
}

// Decision is the result of a resource tenant check. Only Authorized lets the caller proceed;
// Failed carries the lookup error so it can be told apart from a legitimate mismatch.
type Decision struct {
	Outcome Outcome
	Reason  string
	Err     error
}

func (d Decision) Allowed() bool {
	return d.Outcome == Authorized
}

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Guard struct {
	db     Querier
	tables map[string]struct{}
	logger logrus.FieldLogger
}

// NewGuard builds a guard over db. With no tables given it accepts DefaultTables.
func NewGuard(db Querier, logger logrus.FieldLogger, tables ...string) *Guard {
	if len(tables) == 0 {
		tables = DefaultTables
	}
	allowed := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		allowed[table] = struct{}{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Guard{db: db, tables: allowed, logger: logger}
}

func (g *Guard) Allows(table string) bool {
	_, ok := g.tables[table]
	return ok
}

func (g *Guard) Tables() []string {
	out := make([]string, 0, len(g.tables))
	for table := range g.tables {
		out = append(out, table)
	}
	sort.Strings(out)
	return out
}

// ValidateResource checks that exactly one row of table has the given id and tenant.
// Lookup errors are logged and reported as Failed, which is never Allowed.
func (g *Guard) ValidateResource(ctx context.Context, table, resourceID, tenantID string) Decision {
	decision := g.validate(ctx, table, resourceID, tenantID)

	entry := g.logger.WithFields(logrus.Fields{
		"table":       table,
		"resource_id": resourceID,
		"tenant_id":   tenantID,
		"outcome":     decision.Outcome.String(),
	})
	switch decision.Outcome {
	case Failed:
		entry.WithError(decision.Err).Warn("tenant validation failed closed")
	case Denied:
		entry.WithField("reason", decision.Reason).Debug("tenant validation denied")
	}
	label := table
	if !g.Allows(table) {
		label = "unknown"
	}
	metrics.ObserveGuard(label, decision.Outcome.String())
	return decision
}

// ValidateResourceTenant is the boolean form of ValidateResource.
func (g *Guard) ValidateResourceTenant(ctx context.Context, table, resourceID, tenantID string) bool {
	return g.ValidateResource(ctx, table, resourceID, tenantID).Allowed()
}

func (g *Guard) validate(ctx context.Context, table, resourceID, tenantID string) Decision {
	if !g.Allows(table) {
		return Decision{Outcome: Denied, Reason: "unknown_table"}
	}
	if resourceID == "" || tenantID == "" {
		return Decision{Outcome: Denied, Reason: "missing_identifier"}
	}
	if _, err := uuid.Parse(resourceID); err != nil {
		return Decision{Outcome: Failed, Reason: "malformed_id", Err: fmt.Errorf("%w: %v", ErrMalformedID, err)}
	}
	if g.db == nil {
		return Decision{Outcome: Failed, Reason: "no_datastore", Err: errors.New("tenant guard has no datastore")}
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = $1 AND %s = $2", pgx.Identifier{table}.Sanitize(), Column)
	var count int64
	if err := g.db.QueryRow(ctx, query, resourceID, tenantID).Scan(&count); err != nil {
		return Decision{Outcome: Failed, Reason: "lookup_error", Err: err}
	}
	if count != 1 {
		return Decision{Outcome: Denied, Reason: "tenant_mismatch"}
	}
	return Decision{Outcome: Authorized}
}
