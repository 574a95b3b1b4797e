package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/veilchess/veilchess/internal/obslog"
)

// Result is the locally derived record of one finished session. Outcome
// and Role are relative to this device; the peer keeps its own mirror.
type Result struct {
	GameID    string
	Role      string
	Outcome   string
	Method    string
	MovesSAN  []string
	MovesUCI  []string
	StartedAt time.Time
	EndedAt   time.Time
}

// Repository persists finished games to Postgres.
type Repository struct {
	db *sql.DB
}

func Open(databaseURL string) (*Repository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

// Init creates the results table when missing.
func (r *Repository) Init(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS veil_games (
    game_id    TEXT PRIMARY KEY,
    role       TEXT NOT NULL,
    outcome    TEXT NOT NULL,
    method     TEXT NOT NULL,
    moves_uci  TEXT NOT NULL,
    pgn        TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    ended_at   TIMESTAMPTZ NOT NULL
)`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("history: init schema: %w", err)
	}
	return nil
}

// SaveResult upserts one finished game keyed by its session id.
func (r *Repository) SaveResult(ctx context.Context, res *Result) error {
	const q = `
INSERT INTO veil_games (game_id, role, outcome, method, moves_uci, pgn, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (game_id) DO UPDATE SET
    outcome  = EXCLUDED.outcome,
    method   = EXCLUDED.method,
    moves_uci = EXCLUDED.moves_uci,
    pgn      = EXCLUDED.pgn,
    ended_at = EXCLUDED.ended_at`
	_, err := r.db.ExecContext(ctx, q,
		res.GameID, res.Role, res.Outcome, res.Method,
		strings.Join(res.MovesUCI, " "), BuildPGN(res),
		res.StartedAt, res.EndedAt)
	if err != nil {
		return fmt.Errorf("history: save result: %w", err)
	}
	obslog.L().Info("game result saved",
		zap.String("game_id", res.GameID),
		zap.String("outcome", res.Outcome),
		zap.String("method", res.Method))
	return nil
}

// Recent returns the newest finished games, most recent first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT game_id, role, outcome, method, moves_uci, started_at, ended_at
FROM veil_games ORDER BY ended_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var res Result
		var uci string
		if err := rows.Scan(&res.GameID, &res.Role, &res.Outcome, &res.Method, &uci, &res.StartedAt, &res.EndedAt); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		if uci != "" {
			res.MovesUCI = strings.Fields(uci)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// BuildPGN renders a minimal PGN export of the result. Player names are
// intentionally generic; identities never leave the device.
func BuildPGN(res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Event \"Veilchess Session\"]\n")
	fmt.Fprintf(&b, "[Date \"%s\"]\n", res.EndedAt.Format("2006.01.02"))
	white, black := "Host", "Joiner"
	fmt.Fprintf(&b, "[White %q]\n", sanitizeTag(white))
	fmt.Fprintf(&b, "[Black %q]\n", sanitizeTag(black))
	tag := resultTag(res.Outcome, res.Role)
	fmt.Fprintf(&b, "[Result %q]\n\n", tag)

	for i, san := range res.MovesSAN {
		if i%2 == 0 {
			fmt.Fprintf(&b, "%d. ", i/2+1)
		}
		b.WriteString(san)
		b.WriteByte(' ')
	}
	b.WriteString(tag)
	b.WriteByte('\n')
	return b.String()
}

// resultTag converts a device-relative outcome to the absolute PGN
// result tag using the role's color.
func resultTag(outcome, role string) string {
	whiteLocal := role == "host"
	switch outcome {
	case "win":
		if whiteLocal {
			return "1-0"
		}
		return "0-1"
	case "loss":
		if whiteLocal {
			return "0-1"
		}
		return "1-0"
	case "draw":
		return "1/2-1/2"
	}
	return "*"
}

func sanitizeTag(s string) string {
	s = strings.NewReplacer("\"", "", "\n", " ", "\r", " ").Replace(s)
	return strings.TrimSpace(s)
}
