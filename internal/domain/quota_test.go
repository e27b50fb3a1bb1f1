package domain

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitFromInt(t *testing.T) {
	tests := []struct {
		name          string
		in            int64
		wantUnlimited bool
		wantInt       int64
	}{
		{name: "sentinel -1 is unlimited", in: -1, wantUnlimited: true, wantInt: -1},
		{name: "other negatives are unlimited", in: -5, wantUnlimited: true, wantInt: -1},
		{name: "zero is capped", in: 0, wantInt: 0},
		{name: "positive is capped", in: 100, wantInt: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := LimitFromInt(tt.in)
			assert.Equal(t, tt.wantUnlimited, l.IsUnlimited())
			assert.Equal(t, tt.wantInt, l.Int64())
		})
	}
}

func TestLimit_ZeroValueBlocks(t *testing.T) {
	var l Limit
	assert.False(t, l.IsUnlimited())
	assert.False(t, l.Allows(0, 1))
	assert.True(t, l.Allows(0, 0))
}

func TestLimit_Allows(t *testing.T) {
	tests := []struct {
		name     string
		limit    Limit
		current  int64
		quantity int64
		want     bool
	}{
		{name: "unlimited always allows", limit: Unlimited(), current: 1 << 40, quantity: 1 << 20, want: true},
		{name: "under cap", limit: Capped(3), current: 1, quantity: 1, want: true},
		{name: "exactly at cap", limit: Capped(3), current: 2, quantity: 1, want: true},
		{name: "one past cap", limit: Capped(3), current: 3, quantity: 1, want: false},
		{name: "multi-unit overflow", limit: Capped(100), current: 99, quantity: 2, want: false},
		{name: "zero cap blocks", limit: Capped(0), current: 0, quantity: 1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.limit.Allows(tt.current, tt.quantity))
		})
	}
}

func TestLimit_Remaining(t *testing.T) {
	assert.Equal(t, int64(-1), Unlimited().Remaining(50))
	assert.Equal(t, int64(2), Capped(5).Remaining(3))
	assert.Equal(t, int64(0), Capped(5).Remaining(9))
}

func TestPercentageUsed(t *testing.T) {
	assert.Equal(t, 100.0, PercentageUsed(3, 3))
	assert.Equal(t, 80.0, PercentageUsed(80, 100))
	assert.Equal(t, 33.33, PercentageUsed(1, 3))
	assert.Equal(t, 66.67, PercentageUsed(2, 3))
	assert.Equal(t, 100.0, PercentageUsed(0, 0))
}

func TestActionType_Mapping(t *testing.T) {
	tests := []struct {
		action ActionType
		dim    Dimension
		code   string
	}{
		{ActionCreateForm, DimensionForms, CodeQuotaFormsExceeded},
		{ActionSubmitForm, DimensionSubmissions, CodeQuotaSubmissionsExceeded},
		{ActionUploadFile, DimensionStorage, CodeQuotaStorageExceeded},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			d, ok := tt.action.Dimension()
			require.True(t, ok)
			assert.Equal(t, tt.dim, d)
			assert.Equal(t, tt.code, tt.action.ErrorCode())
			assert.True(t, tt.action.IsValid())
		})
	}

	unknown := ActionType("delete_form")
	_, ok := unknown.Dimension()
	assert.False(t, ok)
	assert.False(t, unknown.IsValid())
	assert.Equal(t, CodeQuotaExceeded, unknown.ErrorCode())
}

func TestCrossThresholds(t *testing.T) {
	tests := []struct {
		name      string
		usage     int64
		limit     Limit
		flags     ThresholdFlags
		want      []Threshold
		wantFlags ThresholdFlags
	}{
		{
			name:  "below 80",
			usage: 79, limit: Capped(100),
			want:      nil,
			wantFlags: ThresholdFlags{},
		},
		{
			name:  "exactly 80",
			usage: 80, limit: Capped(100),
			want:      []Threshold{Threshold80},
			wantFlags: ThresholdFlags{Notified80: true},
		},
		{
			name:  "80 already signaled",
			usage: 90, limit: Capped(100), flags: ThresholdFlags{Notified80: true},
			want:      nil,
			wantFlags: ThresholdFlags{Notified80: true},
		},
		{
			name:  "jump straight to 100 signals both",
			usage: 3, limit: Capped(3),
			want:      []Threshold{Threshold80, Threshold100},
			wantFlags: ThresholdFlags{Notified80: true, Notified100: true},
		},
		{
			name:  "small cap rounds correctly",
			usage: 2, limit: Capped(3),
			want:      nil,
			wantFlags: ThresholdFlags{},
		},
		{
			name:  "unlimited never crosses",
			usage: 1 << 30, limit: Unlimited(),
			want:      nil,
			wantFlags: ThresholdFlags{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, flags := CrossThresholds(tt.usage, tt.limit, tt.flags)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantFlags, flags)
		})
	}
}

func TestUsageCounter_AddFloorsAtZero(t *testing.T) {
	c := NewUsageCounter(uuid.New(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	c.Add(DimensionStorage, 5)
	c.Add(DimensionStorage, -10)
	assert.Equal(t, int64(0), c.StorageUsedMB)
}

func TestUsageCounter_SetFlagsIsMonotonic(t *testing.T) {
	c := NewUsageCounter(uuid.New(), time.Now())
	c.SetFlags(DimensionForms, ThresholdFlags{Notified80: true})
	c.SetFlags(DimensionForms, ThresholdFlags{})
	assert.True(t, c.FormFlags.Notified80)
	assert.False(t, c.SubmissionFlags.Notified80)
}

func TestUsageCounter_ApplyDeferThresholds(t *testing.T) {
	c := NewUsageCounter(uuid.New(), time.Now())
	inc := UsageIncrement{Dimension: DimensionForms, Quantity: 3, Limit: Capped(3), DeferThresholds: true}

	crossed, ok := c.Apply(inc)
	require.True(t, ok)
	assert.Empty(t, crossed)
	assert.Equal(t, int64(3), c.FormCount)
	assert.Equal(t, ThresholdFlags{}, c.FormFlags)

	_, ok = c.Apply(UsageIncrement{Dimension: DimensionForms, Quantity: 1, Limit: Capped(3), DeferThresholds: true})
	assert.False(t, ok, "the cap still applies")

	assert.Equal(t, []Threshold{Threshold80, Threshold100}, c.MarkThresholds(DimensionForms, Capped(3)))
	assert.Empty(t, c.MarkThresholds(DimensionForms, Capped(3)))
}

func TestMonthStart(t *testing.T) {
	ts := time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), MonthStart(ts, nil))

	ny := time.FixedZone("EST", -5*60*60)
	// 2026-02-01 03:00 UTC is still January 31 at UTC-5.
	ts = time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.January, MonthStart(ts, ny).Month())
}

func TestQuotaExceededError(t *testing.T) {
	err := QuotaExceeded("quota.enforce", ActionCreateForm, "limit reached", 3, 3)

	var wrapped error = fmt.Errorf("handler: %w", err)
	q, ok := AsQuotaExceeded(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeQuotaFormsExceeded, q.Code)
	assert.Equal(t, 100.0, q.PercentageUsed)
	assert.Equal(t, EQUOTA, ErrorCode(wrapped))
	assert.Equal(t, "limit reached", ErrorMessage(wrapped))

	body, mErr := json.Marshal(q.Body())
	require.NoError(t, mErr)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "quota_exceeded", decoded["error"])
	assert.Equal(t, "QUOTA_FORMS_EXCEEDED", decoded["error_code"])
	assert.Equal(t, "create_form", decoded["action_type"])
	assert.EqualValues(t, 3, decoded["current_usage"])
	assert.EqualValues(t, 3, decoded["max_limit"])
	assert.EqualValues(t, 100, decoded["percentage_used"])
}

func TestNewUsageReport(t *testing.T) {
	month := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewUsageCounter(uuid.New(), month)
	c.FormCount = 2
	c.SubmissionCount = 40
	c.StorageUsedMB = 10

	limits := PlanLimits{
		PlanName:               "Starter",
		MaxForms:               Capped(3),
		MaxSubmissionsPerMonth: Unlimited(),
		MaxStorageMB:           Capped(100),
	}

	r := NewUsageReport(c, limits)
	assert.Equal(t, "2026-03", r.Month)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), r.ResetAt)
	require.Len(t, r.Dimensions, 3)

	assert.Equal(t, int64(1), r.Dimensions[0].Remaining)
	assert.Equal(t, 66.67, r.Dimensions[0].PercentageUsed)
	assert.True(t, r.Dimensions[1].Unlimited)
	assert.Equal(t, int64(-1), r.Dimensions[1].Limit)
	assert.Equal(t, 10.0, r.Dimensions[2].PercentageUsed)
}

func TestSizeToMB(t *testing.T) {
	assert.Equal(t, int64(0), SizeToMB(0))
	assert.Equal(t, int64(1), SizeToMB(1))
	assert.Equal(t, int64(1), SizeToMB(BytesPerMB))
	assert.Equal(t, int64(2), SizeToMB(2_048_000))
	assert.Equal(t, int64(2), SizeToMB(BytesPerMB+1))
}

func TestCreateFormParams_Validate(t *testing.T) {
	p := CreateFormParams{Title: "  Contact  "}
	require.NoError(t, p.Validate())
	assert.Equal(t, "Contact", p.Title)
	assert.Equal(t, FormStatusPublished, p.Status)

	p = CreateFormParams{Title: " "}
	var ve *ValidationError
	require.ErrorAs(t, p.Validate(), &ve)
	assert.Contains(t, ve.Fields, "title")

	p = CreateFormParams{Title: "x", Fields: json.RawMessage(`{bad`)}
	require.ErrorAs(t, p.Validate(), &ve)
	assert.Contains(t, ve.Fields, "fields")
}

func TestUsageCounter_Charge(t *testing.T) {
	c := NewUsageCounter(uuid.New(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	crossed, ok := c.Charge(DimensionForms, 2, Capped(3))
	require.True(t, ok)
	assert.Empty(t, crossed)

	crossed, ok = c.Charge(DimensionForms, 1, Capped(3))
	require.True(t, ok)
	assert.Equal(t, []Threshold{Threshold80, Threshold100}, crossed)
	assert.Equal(t, ThresholdFlags{Notified80: true, Notified100: true}, c.FormFlags)

	crossed, ok = c.Charge(DimensionForms, 1, Capped(3))
	assert.False(t, ok)
	assert.Nil(t, crossed)
	assert.Equal(t, int64(3), c.FormCount)

	_, ok = c.Charge(DimensionSubmissions, 1000, Unlimited())
	require.True(t, ok)
	assert.Equal(t, int64(1000), c.SubmissionCount)
	assert.Equal(t, ThresholdFlags{}, c.SubmissionFlags)
}
