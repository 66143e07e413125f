package models

// CertificateRecord is one certificate to issue, as received from the API or
// a spreadsheet roster. VerificationCode stays empty until allocated.
type CertificateRecord struct {
	FullName         string `json:"full_name" validate:"required"`
	CourseName       string `json:"course_name" validate:"required"`
	Hours            int    `json:"hours" validate:"required,gt=0"`
	CourseStartDate  string `json:"start_date"`
	CourseEndDate    string `json:"end_date"`
	IssueDate        string `json:"issue_date"`
	ExpiryDate       string `json:"expiry_date"`
	StudentID        string `json:"student_id"`
	NationalID       string `json:"national_id" validate:"omitempty,len=18"`
	VerificationCode string `json:"verification_code"`
	SourceSheet      string `json:"source_sheet,omitempty"`
}
