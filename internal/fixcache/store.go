package fixcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"drover/internal/logging"
)

// hotEntries sizes the in-memory layer in front of SQLite.
const hotEntries = 256

// Fix is one remembered mapping from an error to the commands that fixed
// it. ErrorText holds the normalised form; the raw message is never stored.
type Fix struct {
	ErrorHash    string
	ErrorText    string
	Commands     []string
	Description  string
	SuccessRate  float64
	Applications int
	CreatedAt    time.Time
	LastUsed     time.Time
}

// Config tunes the store. Zero fields take the defaults below.
type Config struct {
	Path                string
	TTL                 time.Duration
	MaxEntries          int
	SimilarityThreshold float64
}

// DefaultConfig keeps entries for a week with a thousand-row cap and a
// 0.85 fuzzy-match floor.
func DefaultConfig(path string) Config {
	return Config{
		Path:                path,
		TTL:                 168 * time.Hour,
		MaxEntries:          1000,
		SimilarityThreshold: 0.85,
	}
}

// Store is the persistent fix cache.
type Store struct {
	db  *sql.DB
	cfg Config
	hot *lru.Cache[string, Fix]
}

const fixSchema = `
CREATE TABLE IF NOT EXISTS fixes (
	error_hash   TEXT PRIMARY KEY,
	error_text   TEXT NOT NULL,
	commands     TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	success_rate REAL NOT NULL DEFAULT 0,
	applications INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	last_used    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fixes_last_used ON fixes(last_used);
CREATE INDEX IF NOT EXISTS idx_fixes_created ON fixes(created_at);
`

// Open opens (creating if needed) the cache database.
func Open(cfg Config) (*Store, error) {
	def := DefaultConfig(cfg.Path)
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open fix cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(fixSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create fix cache schema: %w", err)
	}

	hot, err := lru.New[string, Fix](hotEntries)
	if err != nil {
		db.Close()
		return nil, err
	}

	logging.Cache("Fix cache open: %s (ttl=%s, max=%d, threshold=%.2f)",
		cfg.Path, cfg.TTL, cfg.MaxEntries, cfg.SimilarityThreshold)
	return &Store{db: db, cfg: cfg, hot: hot}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup finds a fix for an error message: exact normalised hash first
// (memory, then DB), then a similarity scan over live rows. Entries past
// their TTL never match and are purged as a side effect.
func (s *Store) Lookup(ctx context.Context, errText string) (*Fix, bool, error) {
	norm := Normalize(errText)
	hash := Key(errText)
	cutoff := time.Now().Add(-s.cfg.TTL)

	if fix, ok := s.hot.Get(hash); ok {
		if fix.CreatedAt.After(cutoff) {
			s.touch(ctx, hash)
			logging.CacheDebug("Hot hit for %s", hash[:12])
			return &fix, true, nil
		}
		s.hot.Remove(hash)
	}

	if _, err := s.purgeExpired(ctx, cutoff); err != nil {
		return nil, false, err
	}

	fix, err := s.getRow(ctx, hash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	if err == nil {
		s.touch(ctx, hash)
		s.hot.Add(hash, *fix)
		logging.Cache("Exact hit for %s", hash[:12])
		return fix, true, nil
	}

	best, score, err := s.scanSimilar(ctx, norm)
	if err != nil {
		return nil, false, err
	}
	if best == nil {
		logging.CacheDebug("Miss for %s", hash[:12])
		return nil, false, nil
	}

	s.touch(ctx, best.ErrorHash)
	s.hot.Add(best.ErrorHash, *best)
	logging.Cache("Similar hit for %s -> %s (%.2f)", hash[:12], best.ErrorHash[:12], score)
	return best, true, nil
}

// scanSimilar walks live rows and returns the best match at or above the
// similarity threshold.
func (s *Store) scanSimilar(ctx context.Context, norm string) (*Fix, float64, error) {
	cutoffUnix := time.Now().Add(-s.cfg.TTL).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		SELECT error_hash, error_text, commands, description, success_rate, applications, created_at, last_used
		FROM fixes WHERE created_at > ?`, cutoffUnix)
	if err != nil {
		return nil, 0, fmt.Errorf("scan fixes: %w", err)
	}
	defer rows.Close()

	var best *Fix
	bestScore := 0.0
	for rows.Next() {
		fix, err := scanFix(rows)
		if err != nil {
			return nil, 0, err
		}
		score := Similarity(norm, fix.ErrorText)
		if score >= s.cfg.SimilarityThreshold && score > bestScore {
			best, bestScore = fix, score
		}
	}
	return best, bestScore, rows.Err()
}

// Put upserts a fix, then evicts the oldest-used rows if the table exceeds
// MaxEntries. ErrorText may be raw; it is normalised here.
func (s *Store) Put(ctx context.Context, fix Fix) error {
	if len(fix.Commands) == 0 {
		return fmt.Errorf("fix has no commands")
	}
	norm := Normalize(fix.ErrorText)
	if norm == "" {
		return fmt.Errorf("fix has no error text")
	}
	hash := Key(fix.ErrorText)
	now := time.Now()

	commands, err := json.Marshal(fix.Commands)
	if err != nil {
		return fmt.Errorf("marshal commands: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fixes (error_hash, error_text, commands, description, success_rate, applications, created_at, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(error_hash) DO UPDATE SET
			commands = excluded.commands,
			description = excluded.description,
			last_used = excluded.last_used`,
		hash, norm, string(commands), fix.Description, fix.SuccessRate, fix.Applications,
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("put fix: %w", err)
	}

	stored, err := s.getRow(ctx, hash)
	if err == nil {
		s.hot.Add(hash, *stored)
	}

	if err := s.enforceMaxEntries(ctx); err != nil {
		return err
	}
	logging.Cache("Stored fix %s (%d commands)", hash[:12], len(fix.Commands))
	return nil
}

// RecordOutcome folds one application result into a fix's running success
// rate and bumps its usage.
func (s *Store) RecordOutcome(ctx context.Context, hash string, ok bool) error {
	fix, err := s.getRow(ctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no fix with hash %s", hash)
		}
		return err
	}

	n := fix.Applications + 1
	outcome := 0.0
	if ok {
		outcome = 1.0
	}
	rate := (fix.SuccessRate*float64(n-1) + outcome) / float64(n)

	_, err = s.db.ExecContext(ctx, `
		UPDATE fixes SET applications = ?, success_rate = ?, last_used = ? WHERE error_hash = ?`,
		n, rate, time.Now().UnixMilli(), hash)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	s.hot.Remove(hash)

	logging.CacheDebug("Outcome for %s: ok=%v rate=%.2f over %d", hash[:12], ok, rate, n)
	return nil
}

// Purge deletes expired rows and returns how many went.
func (s *Store) Purge(ctx context.Context) (int, error) {
	return s.purgeExpired(ctx, time.Now().Add(-s.cfg.TTL))
}

// Stats summarises the cache for status output.
type Stats struct {
	Entries        int
	AvgSuccessRate float64
	HotEntries     int
}

// Stats returns current cache statistics.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(success_rate), 0) FROM fixes`).
		Scan(&st.Entries, &st.AvgSuccessRate)
	if err != nil {
		return st, fmt.Errorf("cache stats: %w", err)
	}
	st.HotEntries = s.hot.Len()
	return st, nil
}

func (s *Store) getRow(ctx context.Context, hash string) (*Fix, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT error_hash, error_text, commands, description, success_rate, applications, created_at, last_used
		FROM fixes WHERE error_hash = ?`, hash)
	return scanFix(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFix(row rowScanner) (*Fix, error) {
	var fix Fix
	var commands string
	var created, used int64
	if err := row.Scan(&fix.ErrorHash, &fix.ErrorText, &commands, &fix.Description,
		&fix.SuccessRate, &fix.Applications, &created, &used); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(commands), &fix.Commands); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	fix.CreatedAt = time.UnixMilli(created)
	fix.LastUsed = time.UnixMilli(used)
	return &fix, nil
}

// touch bumps last_used so eviction tracks real usage.
func (s *Store) touch(ctx context.Context, hash string) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE fixes SET last_used = ? WHERE error_hash = ?`, time.Now().UnixMilli(), hash); err != nil {
		logging.CacheDebug("Touch %s: %v", hash[:12], err)
	}
}

// purgeExpired removes rows past the TTL, both from SQLite and the hot
// layer.
func (s *Store) purgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT error_hash FROM fixes WHERE created_at <= ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("query expired: %w", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return 0, err
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if len(hashes) == 0 {
		return 0, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM fixes WHERE created_at <= ?`, cutoff.UnixMilli()); err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	for _, h := range hashes {
		s.hot.Remove(h)
	}
	logging.Cache("Purged %d expired fixes", len(hashes))
	return len(hashes), nil
}

// enforceMaxEntries evicts the least recently used rows beyond MaxEntries.
func (s *Store) enforceMaxEntries(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fixes`).Scan(&count); err != nil {
		return fmt.Errorf("count fixes: %w", err)
	}
	excess := count - s.cfg.MaxEntries
	if excess <= 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT error_hash FROM fixes ORDER BY last_used ASC, created_at ASC LIMIT ?`, excess)
	if err != nil {
		return fmt.Errorf("select eviction candidates: %w", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return err
		}
		hashes = append(hashes, h)
	}
	rows.Close()

	for _, h := range hashes {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM fixes WHERE error_hash = ?`, h); err != nil {
			return fmt.Errorf("evict fix: %w", err)
		}
		s.hot.Remove(h)
	}
	logging.CacheDebug("Evicted %d fixes over the %d-entry cap", len(hashes), s.cfg.MaxEntries)
	return nil
}
