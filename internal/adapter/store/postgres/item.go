package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the store for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Item is the wire shape of a single-table row. Short attribute names match
// the persisted columns.
type Item struct {
	PK     string
	SK     string
	Tp     string
	Dat    map[string]any
	Crt    int64
	Upd    int64
	TTL    *int64
	GSI1PK *string
	GSI1SK *string
	GSI2PK *string
	GSI3PK *string
	GSI3SK *string
}

// Entity type tags.
const (
	tpUser     = "usr"
	tpPlan     = "plan"
	tpProblem  = "prob"
	tpJob      = "job"
	tpProgress = "prog"
	tpHistory  = "hist"
	tpUsage    = "ulog"
)

// Key builders. The layout is fixed; repositories never concatenate keys
// themselves.

func userPK(id string) string         { return "USR#" + id }
func planPK(id string) string         { return "PLAN#" + id }
func emailGSI1(email string) string   { return "EMAIL#" + email }
func oauthGSI2(oauthID string) string { return "OAUTH#" + oauthID }

func problemPK(platform, problemID string) string {
	return "PROB#" + platform + "#" + problemID
}

// problemStatusGSI3 is the sparse status projection for problem listings.
func problemStatusGSI3(completed bool) string {
	if completed {
		return "PROB#COMPLETED"
	}
	return "PROB#DRAFT"
}

func jobPK(kind domain.JobKind, id string) string { return string(kind) + "#" + id }

func jobStatusGSI1(kind domain.JobKind, status domain.JobStatus) string {
	return string(kind) + "#STATUS#" + string(status)
}

func progressPK(kind domain.JobKind, jobID string) string {
	return "JOB#" + string(kind) + "#" + jobID
}

func historyPK(email, platform, problemNumber string) string {
	return "EMAIL#" + email + "#SHIST#" + platform + "#" + problemNumber
}

func historySK(tsMillis int64) string { return fmt.Sprintf("HIST#%013d", tsMillis) }

// publicFeedGSI1 is the global public-history projection partition.
const publicFeedGSI1 = "PUBLIC#HIST"

func usagePK(userID, date string) string { return "USR#" + userID + "#ULOG#" + date }

func usageSK(unixSec int64, action domain.UsageAction) string {
	return fmt.Sprintf("ULOG#%d#%s", unixSec, action)
}

const skMeta = "META"

// sortableTS renders a timestamp as a fixed-width sort key segment.
func sortableTS(unix int64) string { return fmt.Sprintf("%013d", unix) }

// mapError translates driver errors into the domain taxonomy. Capacity-style
// SQL states become Throttled (the table layer retries those); everything
// network-shaped becomes Transient.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation: a conditional create lost the race
			return fmt.Errorf("op=%s: %w", op, domain.ErrPreconditionFailed)
		case "53000", "53100", "53200", "53300", "55P03", "40001", "40P01":
			return fmt.Errorf("op=%s: %w", op, domain.ErrThrottled)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("op=%s: %w: %v", op, domain.ErrTransient, err)
	}
	return fmt.Errorf("op=%s: %w", op, err)
}
