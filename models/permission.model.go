package models

import (
	"gorm.io/gorm"
)

const (
	PermissionIssue       = "issue-certificates"
	PermissionImport      = "import-rosters"
	PermissionStudents    = "register-students"
	PermissionMetrics     = "view-metrics"
	PermissionManageStaff = "manage-staff"
)

type Permission struct {
	gorm.Model
	StaffID    uint   `gorm:"not null;index"`
	Staff      Staff  `gorm:"foreignKey:StaffID" json:"-"`
	Role       string
	Permission string `gorm:"type:varchar(255)"` // e.g., "issue-certificates"
	IsDeleted  bool   `gorm:"default:false"`
}
