package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

// StoreOption customizes the session stores.
type StoreOption func(*storeOptions)

type storeOptions struct {
	now       func() time.Time
	keyPrefix string
}

func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func WithKeyPrefix(prefix string) StoreOption {
	return func(o *storeOptions) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			o.keyPrefix = trimmed
		}
	}
}

func buildStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{
		now:       time.Now,
		keyPrefix: defaultRedisKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	SessionID    string    `bun:"session_id,pk"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
	IsComplete   bool      `bun:"is_complete,notnull"`
	CurrentAgent string    `bun:"current_agent,nullzero"`
	QueryType    string    `bun:"query_type,nullzero"`

	BookingID     string `bun:"booking_id,nullzero"`
	BookingStage  string `bun:"booking_stage,notnull,default:'collecting_info'"`
	BookingStatus string `bun:"booking_status,notnull,default:'pending'"`

	Origin        string `bun:"origin,nullzero"`
	Destination   string `bun:"destination,nullzero"`
	DepartureDate string `bun:"departure_date,nullzero"`
	ReturnDate    string `bun:"return_date,nullzero"`
	Travelers     int    `bun:"travelers,notnull,default:1"`
	CabinClass    string `bun:"cabin_class,notnull,default:'Economy'"`

	SelectedFlightID *int     `bun:"selected_flight_id"`
	FlightNumber     string   `bun:"flight_number,nullzero"`
	Airline          string   `bun:"airline,nullzero"`
	Price            *float64 `bun:"price"`
	Currency         string   `bun:"currency,nullzero"`

	LastFlightsJSON  string `bun:"last_flights_json,notnull,default:'[]'"`
	LastComplaintRef string `bun:"last_complaint_ref,nullzero"`
}

type messageRow struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID        int64     `bun:"id,pk,autoincrement"`
	SessionID string    `bun:"session_id,notnull"`
	Role      string    `bun:"role,notnull"`
	Content   string    `bun:"content,notnull"`
	AgentName string    `bun:"agent_name,nullzero"`
	Timestamp time.Time `bun:"timestamp,notnull"`
}

type summaryRow struct {
	SessionID     string    `bun:"session_id"`
	CreatedAt     time.Time `bun:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at"`
	IsComplete    bool      `bun:"is_complete"`
	CurrentAgent  string    `bun:"current_agent"`
	Destination   string    `bun:"destination"`
	BookingStage  string    `bun:"booking_stage"`
	BookingStatus string    `bun:"booking_status"`
	MessageCount  int       `bun:"message_count"`
}

// upsertColumns are overwritten on conflict; created_at is kept.
var upsertColumns = []string{
	"updated_at", "is_complete", "current_agent", "query_type",
	"booking_id", "booking_stage", "booking_status",
	"origin", "destination", "departure_date", "return_date", "travelers", "cabin_class",
	"selected_flight_id", "flight_number", "airline", "price", "currency",
	"last_flights_json", "last_complaint_ref",
}

// BunStore persists sessions in a SQL database (SQLite or Postgres) via bun.
type BunStore struct {
	db  *bun.DB
	now func() time.Time
}

var _ Store = (*BunStore)(nil)

func NewBunStore(db *bun.DB, opts ...StoreOption) *BunStore {
	o := buildStoreOptions(opts)
	return &BunStore{db: db, now: o.now}
}

// OpenSQLite opens (and creates if needed) a SQLite database and its schema.
func OpenSQLite(ctx context.Context, dsn string, opts ...StoreOption) (*BunStore, error) {
	dsn, err := prepareSQLiteDSN(dsn)
	if err != nil {
		return nil, err
	}
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY between pooled connections.
	sqldb.SetMaxOpenConns(1)

	store := NewBunStore(bun.NewDB(sqldb, sqlitedialect.New()), opts...)
	if err := store.Init(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return store, nil
}

// OpenPostgres connects to Postgres and creates the schema.
func OpenPostgres(ctx context.Context, dsn string, opts ...StoreOption) (*BunStore, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	store := NewBunStore(bun.NewDB(sqldb, pgdialect.New()), opts...)
	if err := store.Init(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return store, nil
}

func prepareSQLiteDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", errors.New("sqlite dsn is empty")
	}

	path, query, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if path != "" && !strings.Contains(path, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("create database directory: %w", err)
		}
	}

	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)"}
	for _, p := range pragmas {
		name, _, _ := strings.Cut(p, "(")
		if strings.Contains(query, "_pragma="+name) {
			continue
		}
		if query != "" {
			query += "&"
		}
		query += "_pragma=" + p
	}
	return "file:" + path + "?" + query, nil
}

// Init creates the tables and indexes if they do not exist.
func (s *BunStore) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*sessionRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.NewCreateTable().
		Model((*messageRow)(nil)).
		IfNotExists().
		ForeignKey(`("session_id") REFERENCES "sessions" ("session_id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	if _, err := s.db.NewCreateIndex().
		Model((*sessionRow)(nil)).
		Index("idx_sessions_updated_at").
		Column("updated_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}

	if _, err := s.db.NewCreateIndex().
		Model((*messageRow)(nil)).
		Index("idx_messages_session_id").
		Column("session_id").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}
	return nil
}

func (s *BunStore) Close() error {
	return s.db.Close()
}

func (s *BunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *BunStore) Load(ctx context.Context, sessionID string) (*SessionRecord, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	row := new(sessionRow)
	err := s.db.NewSelect().Model(row).Where("session_id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	var msgRows []messageRow
	if err := s.db.NewSelect().
		Model(&msgRows).
		Where("session_id = ?", sessionID).
		OrderExpr("id ASC").
		Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load messages for session %s: %w", sessionID, err)
	}

	rec := row.toRecord()
	rec.Messages = make([]ConversationMessage, 0, len(msgRows))
	for _, m := range msgRows {
		rec.Messages = append(rec.Messages, ConversationMessage{
			Role:      Role(m.Role),
			Content:   m.Content,
			AgentName: m.AgentName,
			Timestamp: m.Timestamp.UTC(),
		})
	}
	return rec, nil
}

func (s *BunStore) Save(ctx context.Context, st *TravelAgentState) error {
	rec, err := snapshotFromState(st, s.now())
	if err != nil {
		return err
	}
	row := rowFromRecord(rec)

	msgRows := make([]messageRow, 0, len(rec.Messages))
	for _, m := range rec.Messages {
		ts := m.Timestamp.UTC()
		if ts.IsZero() {
			ts = rec.UpdatedAt
		}
		msgRows = append(msgRows, messageRow{
			SessionID: rec.SessionID,
			Role:      string(m.Role),
			Content:   m.Content,
			AgentName: m.AgentName,
			Timestamp: ts,
		})
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewInsert().Model(row).On("CONFLICT (session_id) DO UPDATE")
		for _, col := range upsertColumns {
			q = q.Set(col + " = EXCLUDED." + col)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		if _, err := tx.NewDelete().
			Model((*messageRow)(nil)).
			Where("session_id = ?", rec.SessionID).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}

		if len(msgRows) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&msgRows).Exec(ctx); err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *BunStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, ErrInvalidSession
	}

	var deleted int64
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*messageRow)(nil)).
			Where("session_id = ?", sessionID).
			Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewDelete().
			Model((*sessionRow)(nil)).
			Where("session_id = ?", sessionID).
			Exec(ctx)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return deleted > 0, nil
}

func (s *BunStore) ListSummaries(ctx context.Context) ([]SessionSummary, error) {
	var rows []summaryRow
	err := s.db.NewSelect().
		TableExpr("sessions AS s").
		ColumnExpr("s.session_id, s.created_at, s.updated_at, s.is_complete").
		ColumnExpr("s.current_agent, s.destination, s.booking_stage, s.booking_status").
		ColumnExpr("COUNT(m.id) AS message_count").
		Join("LEFT JOIN messages AS m ON m.session_id = s.session_id").
		GroupExpr("s.session_id").
		OrderExpr("s.updated_at DESC").
		Scan(ctx, &rows)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]SessionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, SessionSummary{
			SessionID:     r.SessionID,
			CreatedAt:     r.CreatedAt.UTC(),
			UpdatedAt:     r.UpdatedAt.UTC(),
			IsComplete:    r.IsComplete,
			CurrentAgent:  r.CurrentAgent,
			Destination:   r.Destination,
			BookingStage:  BookingStage(r.BookingStage),
			BookingStatus: BookingStatus(r.BookingStatus),
			MessageCount:  r.MessageCount,
		})
	}
	return out, nil
}

// Cleanup applies the age policy, then keeps at most maxCount of the most
// recently updated sessions. A zero maxAge or non-positive maxCount
// disables the respective policy.
func (s *BunStore) Cleanup(ctx context.Context, maxAge time.Duration, maxCount int) (int, error) {
	var removed int64
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if maxAge > 0 {
			cutoff := s.now().Add(-maxAge).UTC()
			res, err := tx.NewDelete().
				Model((*sessionRow)(nil)).
				Where("updated_at < ?", cutoff).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("age cleanup: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			removed += n
		}

		if maxCount > 0 {
			keep := tx.NewSelect().
				Model((*sessionRow)(nil)).
				Column("session_id").
				OrderExpr("updated_at DESC").
				Limit(maxCount)
			res, err := tx.NewDelete().
				Model((*sessionRow)(nil)).
				Where("session_id NOT IN (?)", keep).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("count cleanup: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			removed += n
		}

		if removed == 0 {
			return nil
		}
		// Cascade is not guaranteed when foreign keys are disabled.
		_, err := tx.NewDelete().
			Model((*messageRow)(nil)).
			Where("session_id NOT IN (?)", tx.NewSelect().Model((*sessionRow)(nil)).Column("session_id")).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("orphan message cleanup: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	return int(removed), nil
}

func rowFromRecord(rec *SessionRecord) *sessionRow {
	b := rec.BookingInfo
	return &sessionRow{
		SessionID:        rec.SessionID,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
		IsComplete:       rec.IsComplete,
		CurrentAgent:     rec.CurrentAgent,
		QueryType:        rec.QueryType,
		BookingID:        b.BookingID,
		BookingStage:     string(b.BookingStage),
		BookingStatus:    string(b.BookingStatus),
		Origin:           b.Origin,
		Destination:      b.Destination,
		DepartureDate:    b.DepartureDate,
		ReturnDate:       b.ReturnDate,
		Travelers:        b.Travelers,
		CabinClass:       b.CabinClass,
		SelectedFlightID: b.SelectedFlightID,
		FlightNumber:     b.FlightNumber,
		Airline:          b.Airline,
		Price:            b.Price,
		Currency:         b.Currency,
		LastFlightsJSON:  rec.LastFlightsJSON,
		LastComplaintRef: rec.LastComplaintRef,
	}
}

func (r *sessionRow) toRecord() *SessionRecord {
	booking := TravelBooking{
		BookingID:        r.BookingID,
		Origin:           r.Origin,
		Destination:      r.Destination,
		DepartureDate:    r.DepartureDate,
		ReturnDate:       r.ReturnDate,
		Travelers:        r.Travelers,
		CabinClass:       r.CabinClass,
		BookingStage:     BookingStage(r.BookingStage),
		BookingStatus:    BookingStatus(r.BookingStatus),
		SelectedFlightID: r.SelectedFlightID,
		FlightNumber:     r.FlightNumber,
		Airline:          r.Airline,
		Price:            r.Price,
		Currency:         r.Currency,
	}
	booking.Normalize()

	flights := r.LastFlightsJSON
	if strings.TrimSpace(flights) == "" {
		flights = emptyFlightsJSON
	}

	return &SessionRecord{
		SessionID:        r.SessionID,
		BookingInfo:      booking,
		IsComplete:       r.IsComplete,
		CurrentAgent:     r.CurrentAgent,
		QueryType:        r.QueryType,
		LastFlightsJSON:  flights,
		LastComplaintRef: r.LastComplaintRef,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}
