package main

import (
	"constancias/config"
	"constancias/database"
	certificateController "constancias/controllers/certificate"
	appLogger "constancias/logger"
	"constancias/metrics"
	"constancias/models"
	"constancias/services"
	"constancias/services/issuance"
	"constancias/utils"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Usage: go run ./scripts/issueRoster <roster.xlsx | records.csv>
func main() {
	if len(os.Args) != 2 {
		log.Fatalf("usage: %s <roster.xlsx | records.csv>", filepath.Base(os.Args[0]))
	}
	os.Exit(run(os.Args[1]))
}

// run issues the roster at path and returns the exit status. Its deferred
// cleanup has finished by the time it returns.
func run(path string) int {
	config.LoadConfig()
	database.ConnectDb()
	if sqlDB, err := database.Database.Db.DB(); err == nil {
		defer sqlDB.Close()
	}

	zapLogger, err := appLogger.NewLogger(config.AppConfig.AppEnv, config.AppConfig.LogLevel)
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 1
	}
	defer zapLogger.Sync()

	records, err := readRecords(path, config.AppConfig.RosterMaxRowsPerSheet)
	if err != nil {
		log.Printf("Failed to read %s: %v", path, err)
		return 1
	}
	log.Printf("Total certificates to issue: %d", len(records))

	svc := services.New(config.AppConfig, database.Database.Db, zapLogger, metrics.NewCollector())
	defer svc.Close()

	outcomes, err := svc.Issuer.IssueBatch(issuance.WithSource(context.Background(), "cli"), records)
	if err != nil {
		log.Printf("Batch aborted: %v", err)
		return 1
	}

	printOutcomes(os.Stdout, outcomes)

	summary := certificateController.Summarize(outcomes)
	log.Printf("Issued: %d, Failed: %d, Total: %d", summary.Succeeded, summary.Failed, summary.Total)
	return exitStatus(summary)
}

// exitStatus is 1 when any record failed.
func exitStatus(summary certificateController.Summary) int {
	if summary.Failed > 0 {
		return 1
	}
	return 0
}

func readRecords(path string, maxRowsPerSheet int) ([]models.CertificateRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return utils.ParseRoster(file, maxRowsPerSheet)
	case ".csv":
		return readCSV(file)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

// readCSV reads one certificate per row; the header names the columns with
// the same keys as the JSON API (full_name, course_name, hours, ...).
func readCSV(r io.Reader) ([]models.CertificateRecord, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV file is empty or has only headers")
	}

	headerIndex := make(map[string]int)
	for i, h := range rows[0] {
		headerIndex[strings.ToLower(strings.TrimSpace(h))] = i
	}

	records := make([]models.CertificateRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		records = append(records, models.CertificateRecord{
			FullName:         getField(row, headerIndex, "full_name"),
			CourseName:       getField(row, headerIndex, "course_name"),
			Hours:            parseInt(getField(row, headerIndex, "hours")),
			CourseStartDate:  getField(row, headerIndex, "start_date"),
			CourseEndDate:    getField(row, headerIndex, "end_date"),
			IssueDate:        getField(row, headerIndex, "issue_date"),
			ExpiryDate:       getField(row, headerIndex, "expiry_date"),
			StudentID:        getField(row, headerIndex, "student_id"),
			NationalID:       strings.ToUpper(getField(row, headerIndex, "national_id")),
			VerificationCode: getField(row, headerIndex, "verification_code"),
		})
	}
	return records, nil
}

func getField(row []string, headerIndex map[string]int, field string) string {
	if idx, ok := headerIndex[field]; ok && idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}

func parseInt(s string) int {
	if s == "" {
		return 0
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return val
}

func printOutcomes(w io.Writer, outcomes []issuance.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tCODE\tSTATUS\tDETAIL")
	for i, o := range outcomes {
		status, detail := "OK", o.URL
		if !o.Success {
			status, detail = "FAILED", o.Error
		} else if o.Warning != "" {
			status, detail = "NOT REGISTERED", o.Warning
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, o.Name, o.VerificationCode, status, detail)
	}
	tw.Flush()
}
