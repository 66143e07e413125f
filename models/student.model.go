package models

import "gorm.io/gorm"

// Student is created on the first certificate issued to a student id and
// reused for every later certificate.
type Student struct {
	gorm.Model
	StudentID  string `json:"student_id" gorm:"size:64;uniqueIndex;not null"` // matricula
	NationalID string `json:"national_id" gorm:"size:18;not null"`           // curp
	FullName   string `json:"full_name" gorm:"not null"`
	Password   string `json:"-" gorm:"not null"`
}

func (Student) TableName() string { return "students" }
