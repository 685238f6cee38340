package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/commentboard/backend/internal/models"
)

// datasetRow is the single-row blob table the whole board lives in. The
// document model stays identical to the file backend; postgres just supplies
// durability and a place shared deployments can point at.
type datasetRow struct {
	ID        int       `gorm:"primaryKey"`
	Data      []byte    `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (datasetRow) TableName() string {
	return "board_dataset"
}

const datasetRowID = 1

type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	gormLogger := logger.New(
		log.Default(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := db.AutoMigrate(&datasetRow{}); err != nil {
		return nil, fmt.Errorf("migrate dataset table: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (models.Dataset, error) {
	var row datasetRow
	err := s.db.WithContext(ctx).First(&row, datasetRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewDataset(), nil
	}
	if err != nil {
		return models.Dataset{}, fmt.Errorf("load dataset row: %w", err)
	}

	var dataset models.Dataset
	if err := json.Unmarshal(row.Data, &dataset); err != nil {
		return models.Dataset{}, fmt.Errorf("decode dataset row: %w", err)
	}
	return dataset, nil
}

func (s *PostgresStore) Save(ctx context.Context, dataset models.Dataset) error {
	data, err := json.Marshal(dataset)
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}

	row := datasetRow{ID: datasetRowID, Data: data}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save dataset row: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
