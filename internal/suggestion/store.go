package suggestion

import (
	"context"
	"database/sql"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Store hands out sessions against the pending-suggestion table.
type Store interface {
	Connect(ctx context.Context) (Session, error)
}

// Session is a single acquired connection. Callers must Close it on every path.
type Session interface {
	Insert(ctx context.Context, pending PendingSuggestion) error
	Replace(ctx context.Context, pending PendingSuggestion) error
	ReadFirstPending(ctx context.Context) (*PendingRecord, error)
	Truncate(ctx context.Context) error
	Close() error
}

// GormStore persists pending suggestions using a Gorm database connection pool.
type GormStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewStore constructs a Gorm-backed store implementation.
func NewStore(db *gorm.DB, logger *logrus.Logger) (*GormStore, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &GormStore{db: db, logger: logger}, nil
}

var _ Store = (*GormStore)(nil)

// Connect pins one pooled connection for the lifetime of the returned session.
func (s *GormStore) Connect(ctx context.Context) (Session, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		s.logError(nil, err, "retrieving sql.DB")
		return nil, eris.Wrap(ErrStoreConnection, err.Error())
	}

	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		s.logError(nil, err, "acquiring database connection")
		return nil, eris.Wrap(ErrStoreConnection, err.Error())
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		s.logError(nil, err, "pinging database connection")
		return nil, eris.Wrap(ErrStoreConnection, err.Error())
	}

	tx := s.db.Session(&gorm.Session{Context: ctx, NewDB: true})
	tx.Statement.ConnPool = conn

	return &gormSession{db: tx, conn: conn, logger: s.logger}, nil
}

type gormSession struct {
	db     *gorm.DB
	conn   *sql.Conn
	logger *logrus.Logger
}

// Insert appends a row holding the pending suggestion.
func (s *gormSession) Insert(ctx context.Context, pending PendingSuggestion) error {
	return s.insert(s.db.WithContext(ctx), pending)
}

// Replace truncates the table and inserts the pending suggestion in one transaction,
// keeping the table at a single row.
func (s *gormSession) Replace(ctx context.Context, pending PendingSuggestion) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := truncate(tx); err != nil {
			return err
		}
		return s.insert(tx, pending)
	})
	if err != nil {
		s.logError(logrus.Fields{"user_text": pending.UserText}, err, "replacing pending suggestion")
		return eris.Wrap(err, "replacing pending suggestion")
	}

	return nil
}

func (s *gormSession) insert(tx *gorm.DB, pending PendingSuggestion) error {
	encoded, err := json.Marshal(pending.SuggestedWords)
	if err != nil {
		return eris.Wrap(err, "encoding suggested words")
	}

	record := &PendingRecord{
		UserText:       pending.UserText,
		SuggestedWords: string(encoded),
	}

	if err := tx.Create(record).Error; err != nil {
		s.logError(logrus.Fields{"user_text": pending.UserText}, err, "inserting pending suggestion")
		return eris.Wrap(err, "inserting pending suggestion")
	}

	return nil
}

// ReadFirstPending returns the first row the database yields, or nil when the table is empty.
// No ordering is applied; the single-row invariant is what makes the result deterministic.
func (s *gormSession) ReadFirstPending(ctx context.Context) (*PendingRecord, error) {
	var record PendingRecord

	if err := s.db.WithContext(ctx).Take(&record).Error; err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		s.logError(nil, err, "reading pending suggestion")
		return nil, eris.Wrap(err, "reading pending suggestion")
	}

	return &record, nil
}

// Truncate removes every row from the table.
func (s *gormSession) Truncate(ctx context.Context) error {
	if err := truncate(s.db.WithContext(ctx)); err != nil {
		s.logError(nil, err, "truncating pending suggestions")
		return eris.Wrap(err, "truncating pending suggestions")
	}
	return nil
}

func truncate(tx *gorm.DB) error {
	if tx.Dialector.Name() == "postgres" {
		return tx.Exec("TRUNCATE TABLE " + PendingRecord{}.TableName()).Error
	}
	return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&PendingRecord{}).Error
}

// Close returns the pinned connection to the pool.
func (s *gormSession) Close() error {
	if s.conn == nil {
		return nil
	}

	err := s.conn.Close()
	s.conn = nil
	if err != nil && !eris.Is(err, sql.ErrConnDone) {
		return eris.Wrap(err, "releasing database connection")
	}

	return nil
}

// DecodeSuggestions parses the JSON column written by Insert.
func DecodeSuggestions(raw string) (Suggestions, error) {
	words := Suggestions{}
	if err := json.Unmarshal([]byte(raw), &words); err != nil {
		return nil, eris.Wrap(err, "decoding suggested words")
	}
	return words, nil
}

func (s *GormStore) logError(fields logrus.Fields, err error, message string) {
	logError(s.logger, fields, err, message)
}

func (s *gormSession) logError(fields logrus.Fields, err error, message string) {
	logError(s.logger, fields, err, message)
}

func logError(logger *logrus.Logger, fields logrus.Fields, err error, message string) {
	if logger == nil || err == nil {
		return
	}

	entry := logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
