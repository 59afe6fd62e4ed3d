package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// caseModel is the historical_cases row in PostgreSQL.
type caseModel struct {
	ID               uint   `gorm:"primaryKey"`
	Collection       string `gorm:"type:varchar(128);not null;index:idx_case_collection_district"`
	CaseID           string `gorm:"type:varchar(191);not null;uniqueIndex"`
	StudentID        string `gorm:"type:varchar(64);not null;index"`
	District         string `gorm:"type:varchar(128);index:idx_case_collection_district"`
	FinalDecision    string `gorm:"type:varchar(32)"`
	AIDecision       string `gorm:"type:varchar(32)"`
	AdminDecision    string `gorm:"type:varchar(32)"`
	Score            float64
	VerificationDate time.Time
	HasAdminRemarks  bool
	Narrative        string          `gorm:"type:text;not null"`
	Embedding        pgvector.Vector `gorm:"type:vector"`
	CreatedAt        time.Time       `gorm:"autoCreateTime"`
}

func (caseModel) TableName() string {
	return "historical_cases"
}

func (m *caseModel) toCase() HistoricalCase {
	return HistoricalCase{
		CaseID:        m.CaseID,
		NarrativeText: m.Narrative,
		Metadata: CaseMetadata{
			StudentID:        m.StudentID,
			District:         m.District,
			FinalDecision:    m.FinalDecision,
			AIDecision:       m.AIDecision,
			AdminDecision:    m.AdminDecision,
			Score:            m.Score,
			VerificationDate: m.VerificationDate,
			HasAdminRemarks:  m.HasAdminRemarks,
		},
	}
}

// PgvectorStore keeps cases in PostgreSQL with the pgvector extension and
// ranks them with the cosine distance operator.
type PgvectorStore struct {
	db         *gorm.DB
	host       string
	collection string
}

var _ VectorStore = (*PgvectorStore)(nil)

// OpenPgvectorStore connects, enables the extension, and migrates the table.
func OpenPgvectorStore(ctx context.Context, dsn, collection string) (*PgvectorStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("enable pgvector: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&caseModel{}); err != nil {
		return nil, fmt.Errorf("migrate historical_cases: %w", err)
	}

	host := "postgres"
	if cfg, err := pgx.ParseConfig(dsn); err == nil {
		host = fmt.Sprintf("postgres://%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	}
	log.Debug().Str("location", host).Str("collection", collection).Msg("pgvector case index opened")
	return &PgvectorStore{db: db, host: host, collection: collection}, nil
}

// Append inserts one case.
func (p *PgvectorStore) Append(ctx context.Context, c HistoricalCase) error {
	dim, err := p.dimension(ctx)
	if err != nil {
		return err
	}
	if dim != 0 && dim != len(c.Embedding) {
		return ErrDimensionMismatch
	}

	row := &caseModel{
		Collection:       p.collection,
		CaseID:           c.CaseID,
		StudentID:        c.Metadata.StudentID,
		District:         c.Metadata.District,
		FinalDecision:    c.Metadata.FinalDecision,
		AIDecision:       c.Metadata.AIDecision,
		AdminDecision:    c.Metadata.AdminDecision,
		Score:            c.Metadata.Score,
		VerificationDate: c.Metadata.VerificationDate,
		HasAdminRemarks:  c.Metadata.HasAdminRemarks,
		Narrative:        c.NarrativeText,
		Embedding:        pgvector.NewVector(c.Embedding),
	}
	if err := p.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("insert case %s: %w", c.CaseID, err)
	}
	return nil
}

// Query orders by cosine distance in the database.
func (p *PgvectorStore) Query(ctx context.Context, embedding []float32, filter Filter, k int) ([]Match, error) {
	dim, err := p.dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim != 0 && dim != len(embedding) {
		return nil, ErrDimensionMismatch
	}

	type result struct {
		caseModel
		Distance float64
	}
	var results []result

	queryVector := pgvector.NewVector(embedding)
	q := p.db.WithContext(ctx).
		Table("historical_cases").
		Select("historical_cases.*, embedding <=> ? AS distance", queryVector).
		Where("collection = ?", p.collection)
	if filter.District != "" {
		q = q.Where("district = ?", filter.District)
	}
	err = q.Order(gorm.Expr("embedding <=> ?, id", queryVector)).
		Limit(k).
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("query similar cases: %w", err)
	}

	matches := make([]Match, len(results))
	for i := range results {
		matches[i] = Match{Case: results[i].toCase(), Distance: results[i].Distance}
	}
	return matches, nil
}

// Count returns the number of cases in the collection.
func (p *PgvectorStore) Count(ctx context.Context) (int, error) {
	var n int64
	err := p.db.WithContext(ctx).Model(&caseModel{}).Where("collection = ?", p.collection).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count cases: %w", err)
	}
	return int(n), nil
}

func (p *PgvectorStore) Location() string { return p.host }

// Close releases the connection pool.
func (p *PgvectorStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *PgvectorStore) dimension(ctx context.Context) (int, error) {
	var dims []int
	err := p.db.WithContext(ctx).Model(&caseModel{}).
		Where("collection = ?", p.collection).
		Order("id").Limit(1).
		Pluck("vector_dims(embedding)", &dims).Error
	if err != nil {
		return 0, fmt.Errorf("read dimension: %w", err)
	}
	if len(dims) == 0 {
		return 0, nil
	}
	return dims[0], nil
}
