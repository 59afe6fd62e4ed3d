// Package records reads and writes the verification tables owned by the
// scholarship portal: Student, PhysicalVerification, ImageAnalysis and
// FinalImages. Table and column names follow the portal's schema.
package records

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

// Student is the applicant row. Only the columns used here are mapped.
type Student struct {
	StudentID    string         `gorm:"column:studentId;primaryKey"`
	District     sql.NullString `gorm:"column:district"`
	Status       sql.NullString `gorm:"column:status"`
	Selected     bool           `gorm:"column:selected"`
	AdminRemarks sql.NullString `gorm:"column:admin_remarks"`
}

func (Student) TableName() string { return "Student" }

// PhysicalVerification is one volunteer's field visit for a student.
type PhysicalVerification struct {
	StudentID        string          `gorm:"column:studentId;primaryKey"`
	VolunteerID      string          `gorm:"column:volunteerId;primaryKey"`
	PropertyType     sql.NullString  `gorm:"column:propertyType"`
	WhatYouSaw       sql.NullString  `gorm:"column:whatYouSaw"`
	Comment          sql.NullString  `gorm:"column:comment"`
	ElementsSummary  sql.NullString  `gorm:"column:elementsSummary"`
	Sentiment        sql.NullString  `gorm:"column:sentiment"`
	SentimentText    sql.NullFloat64 `gorm:"column:sentiment_text"`
	VoiceComments    sql.NullString  `gorm:"column:voice_comments"`
	Status           sql.NullString  `gorm:"column:status"`
	AudioS3Key       sql.NullString  `gorm:"column:audio_s3_key"`
	VerificationDate sql.NullTime    `gorm:"column:verificationDate"`
}

func (PhysicalVerification) TableName() string { return "PhysicalVerification" }

// ImageAnalysis is the house condition verdict for a student's photos.
type ImageAnalysis struct {
	AnalysisID      uint           `gorm:"column:analysisId;primaryKey;autoIncrement"`
	StudentID       string         `gorm:"column:studentId"`
	IssuesFound     datatypes.JSON `gorm:"column:issuesFound"`
	ConditionResult string         `gorm:"column:conditionResult"`
	QualityStatus   string         `gorm:"column:qualityStatus"`
}

func (ImageAnalysis) TableName() string { return "ImageAnalysis" }

// FinalImage is one approved evidence photo stored in S3.
type FinalImage struct {
	ID         uint          `gorm:"column:id;primaryKey"`
	StudentID  string        `gorm:"column:studentId"`
	ImageURL   string        `gorm:"column:imageUrl"`
	AnalysisID sql.NullInt64 `gorm:"column:analysisId"`
}

func (FinalImage) TableName() string { return "FinalImages" }

// CaseRecord is the latest stored evidence for a student, used to index an
// admin-finalized case.
type CaseRecord struct {
	StudentID     string
	District      string
	Comment       string
	Summary       string
	VoiceComments string
	AIDecision    string
	Score         float64
	HouseAnalysis string
	VerifiedAt    time.Time
}
