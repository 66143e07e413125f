package issuance

import (
	"constancias/models"
	"constancias/utils"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"
)

const DefaultCodePrefix = "ENS"

// CodeAllocator derives verification codes of the form
//
//	PREFIX-<student 3 digits>-<course 3 letters>-<end date YYYYMMDD>-<sequence>
//
// The sequence is base+offset, where base is read once per batch and offset is
// the record's position in the batch, so codes never collide inside a batch
// without any locking.
type CodeAllocator struct {
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewCodeAllocator(prefix string) *CodeAllocator {
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	return &CodeAllocator{
		prefix: prefix,
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Allocate returns rec's code, building it when rec has none.
func (a *CodeAllocator) Allocate(base, offset int, rec models.CertificateRecord) string {
	if rec.VerificationCode != "" {
		return rec.VerificationCode
	}
	return fmt.Sprintf("%s-%s-%s-%s-%03d",
		a.prefix,
		a.studentSegment(rec.StudentID),
		courseSegment(rec.CourseName),
		a.dateSegment(rec.CourseEndDate),
		base+offset,
	)
}

func (a *CodeAllocator) studentSegment(studentID string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, studentID)
	if len(digits) >= 3 {
		return digits[:3]
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("%03d", a.rng.Intn(900)+100)
}

func courseSegment(course string) string {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, course)
	runes := []rune(compact)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	for len(runes) < 3 {
		runes = append(runes, 'X')
	}
	return string(runes)
}

func (a *CodeAllocator) dateSegment(endDate string) string {
	if strings.TrimSpace(endDate) != "" {
		if t, err := time.Parse("2006-01-02", utils.NormalizeDate(endDate)); err == nil {
			return t.Format("20060102")
		}
	}
	return a.now().Format("20060102")
}
