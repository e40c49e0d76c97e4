package store

import (
	"time"
)

// Run kinds.
const (
	KindCommit      = "commit"
	KindPullRequest = "pull_request"
)

// Run represents one execution attempt of the test suite against a
// specific commit, branch or pull request on one platform.
type Run struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Token     string    `gorm:"uniqueIndex;size:64;not null" json:"token"`
	Platform  string    `gorm:"not null" json:"platform"`
	Kind      string    `gorm:"not null" json:"kind"`
	Branch    string    `gorm:"not null" json:"branch"`
	Commit    string    `gorm:"size:64;not null" json:"commit"`
	PRNumber  int       `gorm:"default:0" json:"pr_number"`
	CreatedAt time.Time `json:"created_at"`

	// Owned records, removed with the run.
	Events      []RunEvent             `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Results     []CaseResult           `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Comparisons []CaseOutputComparison `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// RunEvent is one immutable record in a run's append-only event log.
type RunEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     uint      `gorm:"not null;index" json:"run_id"`
	Stage     string    `gorm:"not null" json:"stage"`
	Timestamp time.Time `gorm:"not null" json:"timestamp"`
	Message   string    `gorm:"type:text;not null" json:"message"`
}

// CaseResult records the exit status and runtime of one test case
// within a run.
type CaseResult struct {
	RunID            uint `gorm:"primaryKey;autoIncrement:false" json:"run_id"`
	CaseID           uint `gorm:"primaryKey;autoIncrement:false" json:"case_id"`
	RuntimeMS        int  `json:"runtime_ms"`
	ExitCode         int  `json:"exit_code"`
	ExpectedExitCode int  `json:"expected_exit_code"`
}

// CaseOutputComparison records which expected sample a case was
// checked against and, when the output differed, the file holding what
// the case actually produced. An empty ActualFile means the actual
// output was byte-identical to the expected one and no separate copy
// was kept.
type CaseOutputComparison struct {
	RunID        uint   `gorm:"primaryKey;autoIncrement:false" json:"run_id"`
	CaseID       uint   `gorm:"primaryKey;autoIncrement:false" json:"case_id"`
	OutputID     uint   `gorm:"primaryKey;autoIncrement:false" json:"output_id"`
	ExpectedFile string `gorm:"not null" json:"expected_file"`
	ActualFile   string `json:"actual_file,omitempty"`
}

// Matches reports whether the actual output was identical to the
// expected one.
func (c CaseOutputComparison) Matches() bool {
	return c.ActualFile == ""
}

// User represents an API user seeded from configuration.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
