package convert

import (
	"fmt"
	"strings"
	"time"
)

// SectionReport lists what one section writer did
type SectionReport struct {
	Kind    SectionKind
	Written []string
	Omitted []string
	Skipped bool
}

func (r *SectionReport) wrote(name string) {
	r.Written = append(r.Written, name)
}

func (r *SectionReport) omit(name, reason string) {
	r.Omitted = append(r.Omitted, fmt.Sprintf("%s (%s)", name, reason))
}

// Summary is the outcome of one session conversion
type Summary struct {
	EID      string
	Sections []SectionReport
	Fetches  int
	Duration time.Duration
}

func (s *Summary) section(kind SectionKind) *SectionReport {
	for i := range s.Sections {
		if s.Sections[i].Kind == kind {
			return &s.Sections[i]
		}
	}
	s.Sections = append(s.Sections, SectionReport{Kind: kind})
	return &s.Sections[len(s.Sections)-1]
}

// Section returns the report of one section
func (s Summary) Section(kind SectionKind) (SectionReport, bool) {
	for _, r := range s.Sections {
		if r.Kind == kind {
			return r, true
		}
	}
	return SectionReport{}, false
}

// Written is the number of objects and columns written across sections
func (s Summary) Written() int {
	n := 0
	for _, r := range s.Sections {
		n += len(r.Written)
	}
	return n
}

// Omitted is the number of fields left out across sections
func (s Summary) Omitted() int {
	n := 0
	for _, r := range s.Sections {
		n += len(r.Omitted)
	}
	return n
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d written, %d omitted, %d fetches in %s\n", s.EID, s.Written(), s.Omitted(), s.Fetches, s.Duration.Round(time.Millisecond))
	for _, r := range s.Sections {
		if r.Skipped {
			fmt.Fprintf(&b, "  %-15s skipped\n", r.Kind)
			continue
		}
		fmt.Fprintf(&b, "  %-15s %d written, %d omitted\n", r.Kind, len(r.Written), len(r.Omitted))
	}
	return b.String()
}
