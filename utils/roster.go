package utils

import (
	"constancias/models"
	"fmt"
	"io"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// [COURSE] (HOURS) {START} "END", the end date quotes may be typographic or absent
var courseHeader = regexp.MustCompile(`^\[(.*?)\]\s*\((\d+)\)\s*\{(.*?)\}\s*["'“”‘’]?(.*?)["'“”‘’]?$`)

const completedStatus = "REALIZADO"

type courseColumn struct {
	index     int
	course    string
	hours     int
	startDate string
	endDate   string
}

// ParseRoster reads every sheet of an xlsx workbook and returns one record
// per student and course column marked REALIZADO. maxRowsPerSheet <= 0 reads
// all rows.
func ParseRoster(r io.Reader, maxRowsPerSheet int) ([]models.CertificateRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var records []models.CertificateRecord
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		records = append(records, parseSheet(sheet, rows, maxRowsPerSheet)...)
	}
	return records, nil
}

func parseSheet(sheet string, rows [][]string, maxRows int) []models.CertificateRecord {
	if len(rows) == 0 {
		return nil
	}

	nameIdx, studentIdx, nationalIdx := -1, -1, -1
	var courses []courseColumn

	for i, header := range rows[0] {
		original := strings.TrimSpace(header)
		lower := strings.ToLower(original)

		switch {
		case strings.Contains(lower, "nombre"):
			nameIdx = i
		case strings.Contains(lower, "matricula"), strings.Contains(lower, "matrícula"):
			studentIdx = i
		case strings.Contains(lower, "curp"):
			nationalIdx = i
		}

		m := courseHeader.FindStringSubmatch(original)
		if m == nil {
			continue
		}
		hours, _ := strconv.Atoi(m[2])
		col := courseColumn{
			index:     i,
			course:    strings.ToUpper(strings.TrimSpace(m[1])),
			hours:     hours,
			startDate: strings.TrimSpace(m[3]),
			endDate:   strings.TrimSpace(m[4]),
		}
		if iso, ok := ParseSpanishDate(col.startDate); ok {
			col.startDate = iso
		}
		if iso, ok := ParseSpanishDate(col.endDate); ok {
			col.endDate = iso
		}
		courses = append(courses, col)
	}

	if nameIdx == -1 {
		log.Printf("[ROSTER] Sheet %q skipped: no 'Nombre' column found", sheet)
		return nil
	}

	data := rows[1:]
	if maxRows > 0 && len(data) > maxRows {
		data = data[:maxRows]
	}

	var records []models.CertificateRecord
	for _, row := range data {
		name := strings.ToUpper(strings.TrimSpace(cell(row, nameIdx)))
		if name == "" {
			continue
		}
		for _, col := range courses {
			if strings.ToUpper(strings.TrimSpace(cell(row, col.index))) != completedStatus {
				continue
			}
			records = append(records, models.CertificateRecord{
				FullName:        name,
				CourseName:      col.course,
				Hours:           col.hours,
				CourseStartDate: col.startDate,
				CourseEndDate:   col.endDate,
				StudentID:       strings.TrimSpace(cell(row, studentIdx)),
				NationalID:      strings.ToUpper(strings.TrimSpace(cell(row, nationalIdx))),
				SourceSheet:     sheet,
			})
		}
	}
	return records
}

// GetRows trims trailing empty cells, so short rows are common.
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
