package telemetry

import (
	"context"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const insertBatchSize = 100

// GormStore keeps flow records in MySQL.
type GormStore struct {
	db *gorm.DB
}

// OpenGorm connects to MySQL. The handle is shared with other users of the
// database, such as web push subscriptions.
func OpenGorm(dsn string) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&FlowRecord{}); err != nil {
		return nil, err
	}
	log.Infof("Telemetry table ready")
	return &GormStore{db: db}, nil
}

func (s *GormStore) Insert(ctx context.Context, records []FlowRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(records, insertBatchSize).Error
}

func (s *GormStore) Recent(ctx context.Context, session string, limit int) ([]FlowRecord, error) {
	var records []FlowRecord
	err := s.db.WithContext(ctx).
		Where("session = ?", session).
		Order("id desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	reverse(records)
	return records, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func reverse(records []FlowRecord) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}
