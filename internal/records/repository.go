package records

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fpang/scholarship-verification/internal/config"
)

// ErrNotFound is returned when a student has no matching record.
var ErrNotFound = errors.New("record not found")

// DefaultDistrict is used when a student has no district on file.
const DefaultDistrict = "Unknown"

// Repository is the gorm-backed access layer for verification records.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// DSN builds a MySQL DSN from the database settings.
func DSN(cfg config.DatabaseConfig) string {
	mc := mysqldriver.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.ClientFoundRows = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// Open connects to MySQL.
func Open(cfg config.DatabaseConfig) (*Repository, error) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:               DSN(cfg),
		DefaultStringSize: 191,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	log.Debug().Str("host", cfg.Host).Str("database", cfg.Name).Msg("Records database opened")
	return New(db), nil
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Close closes the underlying connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MarkProcessing stores the visit form fields and flags the verification
// as PROCESSING while the pipeline runs.
func (r *Repository) MarkProcessing(ctx context.Context, studentID, volunteerID, propertyType, whatYouSaw string) error {
	res := r.db.WithContext(ctx).
		Model(&PhysicalVerification{}).
		Where("studentId = ? AND volunteerId = ?", studentID, volunteerID).
		Updates(map[string]interface{}{
			"propertyType": propertyType,
			"whatYouSaw":   whatYouSaw,
			"status":       "PROCESSING",
		})
	if res.Error != nil {
		return fmt.Errorf("mark processing %s/%s: %w", studentID, volunteerID, res.Error)
	}
	if res.RowsAffected == 0 {
		log.Warn().Str("studentId", studentID).Str("volunteerId", volunteerID).Msg("No PhysicalVerification row to mark processing")
	}
	return nil
}

// SaveResult writes the run to PhysicalVerification and, when the visual
// stage produced points, inserts an ImageAnalysis row and links the
// student's FinalImages to it. All writes share one transaction.
func (r *Repository) SaveResult(ctx context.Context, res Result) error {
	analysis, err := imageAnalysisFor(res)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if analysis != nil {
			if err := tx.Create(analysis).Error; err != nil {
				return fmt.Errorf("insert ImageAnalysis: %w", err)
			}
			if err := tx.Model(&FinalImage{}).
				Where("studentId = ?", res.StudentID).
				Update("analysisId", analysis.AnalysisID).Error; err != nil {
				return fmt.Errorf("link FinalImages: %w", err)
			}
		}

		if err := tx.Model(&PhysicalVerification{}).
			Where("studentId = ? AND volunteerId = ?", res.StudentID, res.VolunteerID).
			Updates(verificationColumns(res, r.now())).Error; err != nil {
			return fmt.Errorf("update PhysicalVerification: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save result %s: %w", res.StudentID, err)
	}

	log.Info().
		Str("studentId", res.StudentID).
		Str("volunteerId", res.VolunteerID).
		Bool("imageAnalysis", analysis != nil).
		Msg("Verification result saved")
	return nil
}

// StudentDistrict returns the student's district, or DefaultDistrict.
func (r *Repository) StudentDistrict(ctx context.Context, studentID string) (string, error) {
	var s Student
	err := r.db.WithContext(ctx).Select("studentId", "district").
		Where("studentId = ?", studentID).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultDistrict, nil
	}
	if err != nil {
		return "", fmt.Errorf("read district %s: %w", studentID, err)
	}
	if !s.District.Valid || s.District.String == "" {
		return DefaultDistrict, nil
	}
	return s.District.String, nil
}

// ImageKeys lists the S3 keys of the student's final images.
func (r *Repository) ImageKeys(ctx context.Context, studentID string) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).Model(&FinalImage{}).
		Where("studentId = ?", studentID).
		Pluck("imageUrl", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("list images %s: %w", studentID, err)
	}
	return keys, nil
}

// LatestCase gathers the newest verification, house analysis and district
// for a student. It returns ErrNotFound when no verification exists.
func (r *Repository) LatestCase(ctx context.Context, studentID string) (*CaseRecord, error) {
	db := r.db.WithContext(ctx)

	var pv PhysicalVerification
	err := db.Where("studentId = ?", studentID).
		Order("verificationDate DESC").
		Take(&pv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read verification %s: %w", studentID, err)
	}

	var ia ImageAnalysis
	houseAnalysis := ""
	err = db.Where("studentId = ?", studentID).Order("analysisId DESC").Take(&ia).Error
	switch {
	case err == nil:
		houseAnalysis = string(ia.IssuesFound)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("read image analysis %s: %w", studentID, err)
	}

	district, err := r.StudentDistrict(ctx, studentID)
	if err != nil {
		return nil, err
	}

	return &CaseRecord{
		StudentID:     studentID,
		District:      district,
		Comment:       pv.Comment.String,
		Summary:       pv.ElementsSummary.String,
		VoiceComments: pv.VoiceComments.String,
		AIDecision:    pv.Sentiment.String,
		Score:         pv.SentimentText.Float64,
		HouseAnalysis: houseAnalysis,
		VerifiedAt:    pv.VerificationDate.Time,
	}, nil
}

// SetAdminDecision stores the admin's final status and remarks on the
// student row.
func (r *Repository) SetAdminDecision(ctx context.Context, studentID, status, remarks string) error {
	res := r.db.WithContext(ctx).Model(&Student{}).
		Where("studentId = ?", studentID).
		Updates(map[string]interface{}{
			"status":        status,
			"selected":      IsSelected(status),
			"admin_remarks": remarks,
		})
	if res.Error != nil {
		return fmt.Errorf("update student %s: %w", studentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
