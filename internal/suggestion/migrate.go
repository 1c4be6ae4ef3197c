package suggestion

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate applies the pending-suggestion schema using Gorm's AutoMigrate and logs progress.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "suggestion.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Info("applying storing schema")
	}

	if err := db.WithContext(ctx).AutoMigrate(&PendingRecord{}); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("storing schema migration failed")
		}
		return eris.Wrap(err, "auto migrating storing schema")
	}

	if logger != nil {
		logger.WithFields(logFields).Info("storing schema migration complete")
	}

	return nil
}
