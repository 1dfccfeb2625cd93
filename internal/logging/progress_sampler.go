package logging

import "strings"

// ProgressSampler suppresses repetitive progress logs while preserving signal
// when the job or percentage bucket changes.
type ProgressSampler struct {
	bucketSize int
	lastJob    string
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 5%) or when the job handle changes.
func NewProgressSampler(bucketSize int) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress update should be logged. Percent can be
// negative to indicate "unknown"; values above 100 are clamped.
func (s *ProgressSampler) ShouldLog(percent int, processID string) bool {
	if s == nil {
		return true
	}
	processID = strings.TrimSpace(processID)
	emit := false
	if processID != "" && processID != s.lastJob {
		s.lastJob = processID
		s.lastBucket = -1
		emit = true
	}
	if percent >= 0 {
		if percent > 100 {
			percent = 100
		}
		bucket := percent / s.bucketSize
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state (e.g. when a new job starts).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastJob = ""
	s.lastBucket = -1
}
