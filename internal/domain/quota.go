// This file defines the quota types: metered actions, usage dimensions, plan
// limits and the per-month usage counter.

package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Actions and Dimensions
// =============================================================================

// ActionType identifies a quota-metered operation.
type ActionType string

const (
	ActionCreateForm ActionType = "create_form"
	ActionSubmitForm ActionType = "submit_form"
	ActionUploadFile ActionType = "upload_file"
)

// Error codes reported for exceeded quotas, keyed by action.
const (
	CodeQuotaFormsExceeded       = "QUOTA_FORMS_EXCEEDED"
	CodeQuotaSubmissionsExceeded = "QUOTA_SUBMISSIONS_EXCEEDED"
	CodeQuotaStorageExceeded     = "QUOTA_STORAGE_EXCEEDED"
	CodeQuotaExceeded            = "QUOTA_EXCEEDED"
)

// IsValid returns true if the action is one of the metered actions.
func (a ActionType) IsValid() bool {
	_, ok := a.Dimension()
	return ok
}

// Dimension returns the usage dimension charged by the action.
func (a ActionType) Dimension() (Dimension, bool) {
	switch a {
	case ActionCreateForm:
		return DimensionForms, true
	case ActionSubmitForm:
		return DimensionSubmissions, true
	case ActionUploadFile:
		return DimensionStorage, true
	}
	return "", false
}

// ErrorCode returns the machine-readable code used when the action's quota is
// exceeded. Unknown actions map to QUOTA_EXCEEDED.
func (a ActionType) ErrorCode() string {
	switch a {
	case ActionCreateForm:
		return CodeQuotaFormsExceeded
	case ActionSubmitForm:
		return CodeQuotaSubmissionsExceeded
	case ActionUploadFile:
		return CodeQuotaStorageExceeded
	default:
		return CodeQuotaExceeded
	}
}

func (a ActionType) String() string {
	return string(a)
}

// Dimension is one independently tracked usage counter.
type Dimension string

const (
	DimensionForms       Dimension = "forms"
	DimensionSubmissions Dimension = "submissions"
	DimensionStorage     Dimension = "storage_mb"
)

// Dimensions lists every usage dimension in reporting order.
var Dimensions = []Dimension{DimensionForms, DimensionSubmissions, DimensionStorage}

// Unit returns the human-readable unit of the dimension.
func (d Dimension) Unit() string {
	switch d {
	case DimensionForms:
		return "forms"
	case DimensionSubmissions:
		return "submissions"
	case DimensionStorage:
		return "MB of storage"
	default:
		return string(d)
	}
}

// =============================================================================
// Limit
// =============================================================================

// Limit is a per-plan cap for one dimension: either Unlimited or Capped(n).
//
// The zero value is Capped(0), so an unset limit blocks usage instead of
// silently allowing it. The -1 sentinel only exists at the storage and config
// boundary (see LimitFromInt and Int64).
type Limit struct {
	max       int64
	unlimited bool
}

// Unlimited returns a limit that never blocks.
func Unlimited() Limit {
	return Limit{unlimited: true}
}

// Capped returns a limit of n units. Negative values are clamped to zero.
func Capped(n int64) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{max: n}
}

// LimitFromInt converts a stored cap to a Limit. Any negative value means unlimited.
func LimitFromInt(v int64) Limit {
	if v < 0 {
		return Unlimited()
	}
	return Capped(v)
}

// IsUnlimited reports whether the limit never blocks.
func (l Limit) IsUnlimited() bool {
	return l.unlimited
}

// Max returns the cap. It is meaningless for unlimited limits.
func (l Limit) Max() int64 {
	return l.max
}

// Int64 returns the storage representation: the cap, or -1 for unlimited.
func (l Limit) Int64() int64 {
	if l.unlimited {
		return -1
	}
	return l.max
}

// Allows reports whether adding quantity to current stays within the cap.
func (l Limit) Allows(current, quantity int64) bool {
	if l.unlimited {
		return true
	}
	return current+quantity <= l.max
}

// Remaining returns the headroom left after used, or -1 when unlimited.
func (l Limit) Remaining(used int64) int64 {
	if l.unlimited {
		return -1
	}
	if used >= l.max {
		return 0
	}
	return l.max - used
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(l.max, 10)
}

// PercentageUsed returns current/max as a percentage rounded to two decimals.
// A cap of zero reports 100.
func PercentageUsed(current, max int64) float64 {
	if max <= 0 {
		return 100
	}
	pct := float64(current) / float64(max) * 100
	return math.Round(pct*100) / 100
}

// =============================================================================
// Plan Limits
// =============================================================================

// PlanLimits are the caps of a user's effective plan.
type PlanLimits struct {
	PlanID                 uuid.UUID // uuid.Nil for the built-in free tier
	PlanName               string
	MaxForms               Limit
	MaxSubmissionsPerMonth Limit
	MaxStorageMB           Limit
}

// For returns the cap for a dimension.
func (p PlanLimits) For(d Dimension) Limit {
	switch d {
	case DimensionForms:
		return p.MaxForms
	case DimensionSubmissions:
		return p.MaxSubmissionsPerMonth
	case DimensionStorage:
		return p.MaxStorageMB
	default:
		return Capped(0)
	}
}

// =============================================================================
// Thresholds
// =============================================================================

// Threshold is a usage percentage that triggers a one-time notification.
type Threshold int

const (
	Threshold80  Threshold = 80
	Threshold100 Threshold = 100
)

// ThresholdFlags records which thresholds were already signaled for a dimension.
// Flags are monotonic within a month: once true they stay true.
type ThresholdFlags struct {
	Notified80  bool
	Notified100 bool
}

// Merge returns the union of both flag sets.
func (f ThresholdFlags) Merge(o ThresholdFlags) ThresholdFlags {
	return ThresholdFlags{
		Notified80:  f.Notified80 || o.Notified80,
		Notified100: f.Notified100 || o.Notified100,
	}
}

// CrossThresholds returns the thresholds that usage has reached but were not yet
// signaled, along with the updated flags. Unlimited caps never cross.
func CrossThresholds(usage int64, limit Limit, flags ThresholdFlags) ([]Threshold, ThresholdFlags) {
	if limit.IsUnlimited() || limit.Max() <= 0 {
		return nil, flags
	}

	var crossed []Threshold
	// usage/max >= pct/100, kept in integers
	if !flags.Notified80 && usage*100 >= limit.Max()*int64(Threshold80) {
		flags.Notified80 = true
		crossed = append(crossed, Threshold80)
	}
	if !flags.Notified100 && usage >= limit.Max() {
		flags.Notified100 = true
		crossed = append(crossed, Threshold100)
	}
	return crossed, flags
}

// ThresholdEvent is emitted the first time a capped dimension crosses a threshold
// within a month.
type ThresholdEvent struct {
	UserID    uuid.UUID
	Month     time.Time
	Dimension Dimension
	Threshold Threshold
	Usage     int64
	Limit     int64
	PlanName  string
}

// =============================================================================
// Usage Counter
// =============================================================================

// MonthStart truncates t to the first day of its calendar month in loc.
func MonthStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// UsageCounter holds a user's usage for one calendar month.
type UsageCounter struct {
	UserID          uuid.UUID
	Month           time.Time
	FormCount       int64
	SubmissionCount int64
	StorageUsedMB   int64
	FormFlags       ThresholdFlags
	SubmissionFlags ThresholdFlags
	StorageFlags    ThresholdFlags
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewUsageCounter returns a zeroed counter for (userID, month).
func NewUsageCounter(userID uuid.UUID, month time.Time) *UsageCounter {
	return &UsageCounter{
		UserID: userID,
		Month:  month,
	}
}

// Value returns the counter for a dimension.
func (c *UsageCounter) Value(d Dimension) int64 {
	switch d {
	case DimensionForms:
		return c.FormCount
	case DimensionSubmissions:
		return c.SubmissionCount
	case DimensionStorage:
		return c.StorageUsedMB
	default:
		return 0
	}
}

// Add adjusts a dimension by delta, flooring at zero.
func (c *UsageCounter) Add(d Dimension, delta int64) {
	v := c.Value(d) + delta
	if v < 0 {
		v = 0
	}
	switch d {
	case DimensionForms:
		c.FormCount = v
	case DimensionSubmissions:
		c.SubmissionCount = v
	case DimensionStorage:
		c.StorageUsedMB = v
	}
}

// Flags returns the notification flags for a dimension.
func (c *UsageCounter) Flags(d Dimension) ThresholdFlags {
	switch d {
	case DimensionForms:
		return c.FormFlags
	case DimensionSubmissions:
		return c.SubmissionFlags
	case DimensionStorage:
		return c.StorageFlags
	default:
		return ThresholdFlags{}
	}
}

// SetFlags merges f into the dimension's flags. Flags are never cleared.
func (c *UsageCounter) SetFlags(d Dimension, f ThresholdFlags) {
	switch d {
	case DimensionForms:
		c.FormFlags = c.FormFlags.Merge(f)
	case DimensionSubmissions:
		c.SubmissionFlags = c.SubmissionFlags.Merge(f)
	case DimensionStorage:
		c.StorageFlags = c.StorageFlags.Merge(f)
	}
}

// Charge adds quantity to dimension d when the cap allows it, then flips the
// flags of any thresholds the new value reaches. When the cap would be exceeded
// the counter is left untouched and ok is false.
func (c *UsageCounter) Charge(d Dimension, quantity int64, limit Limit) (crossed []Threshold, ok bool) {
	if !limit.Allows(c.Value(d), quantity) {
		return nil, false
	}
	c.Add(d, quantity)
	return c.MarkThresholds(d, limit), true
}

// Apply runs inc against the counter. With DeferThresholds set only the cap
// check and the increment happen; flags are left for MarkThresholds.
func (c *UsageCounter) Apply(inc UsageIncrement) (crossed []Threshold, ok bool) {
	if !inc.DeferThresholds {
		return c.Charge(inc.Dimension, inc.Quantity, inc.Limit)
	}
	if !inc.Limit.Allows(c.Value(inc.Dimension), inc.Quantity) {
		return nil, false
	}
	c.Add(inc.Dimension, inc.Quantity)
	return nil, true
}

// MarkThresholds flips the flags of any thresholds the current value of d
// reaches and returns the ones that were not yet signaled.
func (c *UsageCounter) MarkThresholds(d Dimension, limit Limit) []Threshold {
	crossed, flags := CrossThresholds(c.Value(d), limit, c.Flags(d))
	c.SetFlags(d, flags)
	return crossed
}

// Clone returns a copy safe to hand out of a store.
func (c *UsageCounter) Clone() *UsageCounter {
	cp := *c
	return &cp
}

// UsageIncrement describes one guarded increment of a usage counter.
// DeferThresholds leaves the notification flags untouched, for charges that
// may still be released.
type UsageIncrement struct {
	UserID          uuid.UUID
	Month           time.Time
	Dimension       Dimension
	Quantity        int64
	Limit           Limit
	DeferThresholds bool
}

// ThresholdMark asks a store to flip the flags the current value of a
// dimension reaches.
type ThresholdMark struct {
	UserID    uuid.UUID
	Month     time.Time
	Dimension Dimension
	Limit     Limit
}

// IncrementResult is the outcome of a guarded increment. When Allowed is false
// Counter holds the unchanged state that caused the rejection.
type IncrementResult struct {
	Counter *UsageCounter
	Allowed bool
	Crossed []Threshold
}

// =============================================================================
// Usage Report
// =============================================================================

// DimensionUsage is the reported usage of one dimension. Limit and Remaining
// are -1 when unlimited.
type DimensionUsage struct {
	Dimension      Dimension `json:"dimension"`
	Used           int64     `json:"used"`
	Limit          int64     `json:"limit"`
	Remaining      int64     `json:"remaining"`
	PercentageUsed float64   `json:"percentage_used"`
	Unlimited      bool      `json:"unlimited"`
}

// UsageReport is a user's quota state for the current month.
type UsageReport struct {
	UserID     uuid.UUID        `json:"user_id"`
	Month      string           `json:"month"`
	Plan       string           `json:"plan"`
	ResetAt    time.Time        `json:"reset_at"`
	Dimensions []DimensionUsage `json:"dimensions"`
}

// NewUsageReport builds a report from a counter snapshot and the plan's limits.
func NewUsageReport(counter *UsageCounter, limits PlanLimits) *UsageReport {
	report := &UsageReport{
		UserID:  counter.UserID,
		Month:   counter.Month.Format("2006-01"),
		Plan:    limits.PlanName,
		ResetAt: counter.Month.AddDate(0, 1, 0),
	}
	for _, d := range Dimensions {
		used := counter.Value(d)
		limit := limits.For(d)
		du := DimensionUsage{
			Dimension: d,
			Used:      used,
			Limit:     limit.Int64(),
			Remaining: limit.Remaining(used),
			Unlimited: limit.IsUnlimited(),
		}
		if !limit.IsUnlimited() {
			du.PercentageUsed = PercentageUsed(used, limit.Max())
		}
		report.Dimensions = append(report.Dimensions, du)
	}
	return report
}

// =============================================================================
// Quota Exceeded Error
// =============================================================================

// QuotaExceededError is returned when an action would push a capped dimension
// past its limit. It serializes to the flat JSON body of a 429 response.
type QuotaExceededError struct {
	Op             string
	ActionType     ActionType
	Code           string
	Message        string
	CurrentUsage   int64
	MaxLimit       int64
	PercentageUsed float64
}

// QuotaExceeded creates a QuotaExceededError for action with the given usage.
func QuotaExceeded(op string, action ActionType, message string, current, max int64) *QuotaExceededError {
	return &QuotaExceededError{
		Op:             op,
		ActionType:     action,
		Code:           action.ErrorCode(),
		Message:        message,
		CurrentUsage:   current,
		MaxLimit:       max,
		PercentageUsed: PercentageUsed(current, max),
	}
}

func (e *QuotaExceededError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (%d/%d)", e.Op, e.Code, e.CurrentUsage, e.MaxLimit)
	}
	return fmt.Sprintf("%s (%d/%d)", e.Code, e.CurrentUsage, e.MaxLimit)
}

// QuotaExceededBody is the wire shape of a quota rejection.
type QuotaExceededBody struct {
	Error          string     `json:"error"`
	ErrorCode      string     `json:"error_code"`
	ActionType     ActionType `json:"action_type"`
	Message        string     `json:"message"`
	CurrentUsage   int64      `json:"current_usage"`
	MaxLimit       int64      `json:"max_limit"`
	PercentageUsed float64    `json:"percentage_used"`
}

// Body returns the serializable form of the error.
func (e *QuotaExceededError) Body() QuotaExceededBody {
	return QuotaExceededBody{
		Error:          "quota_exceeded",
		ErrorCode:      e.Code,
		ActionType:     e.ActionType,
		Message:        e.Message,
		CurrentUsage:   e.CurrentUsage,
		MaxLimit:       e.MaxLimit,
		PercentageUsed: e.PercentageUsed,
	}
}
