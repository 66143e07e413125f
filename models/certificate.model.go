package models

import "gorm.io/gorm"

// Certificate is the book-of-record entry of an issued constancia.
// (student_ref, course_name) and verification_code are both unique.
type Certificate struct {
	gorm.Model
	StudentRef       uint    `json:"student_ref" gorm:"not null;uniqueIndex:idx_certificate_student_course"`
	Student          Student `json:"student,omitempty" gorm:"foreignKey:StudentRef"`
	CourseName       string  `json:"course_name" gorm:"size:255;not null;uniqueIndex:idx_certificate_student_course"`
	VerificationCode string  `json:"verification_code" gorm:"size:64;not null;uniqueIndex"`
	IssueDate        string  `json:"issue_date" gorm:"size:32;not null"`
	ExpiryDate       string  `json:"expiry_date" gorm:"size:32;not null"`
	Hours            int     `json:"hours" gorm:"not null"`
	ArtifactURL      string  `json:"artifact_url" gorm:"type:text;not null"`
}

func (Certificate) TableName() string { return "certificates" }
