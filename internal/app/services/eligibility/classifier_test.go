package eligibility

import (
	"testing"
	"time"

	"github.com/comedor-digital/meal_service/internal/app/domain/mealplan"
)

func TestClassifyWindows(t *testing.T) {
	c := NewClassifier("UTC", nil)

	cases := []struct {
		hour, minute int
		want         mealplan.Category
		served       bool
	}{
		{0, 0, "", false},
		{3, 0, "", false},
		{5, 0, "", false},
		{5, 59, "", false},
		{6, 0, mealplan.Breakfast, true},
		{9, 59, mealplan.Breakfast, true},
		{10, 0, mealplan.Lunch, true}, // boundary belongs to the later window
		{11, 0, mealplan.Lunch, true},
		{13, 59, mealplan.Lunch, true},
		{14, 0, mealplan.Snack, true},
		{16, 59, mealplan.Snack, true},
		{17, 0, "", false},
		{23, 30, "", false},
	}
	for _, tc := range cases {
		now := time.Date(2025, 3, 4, tc.hour, tc.minute, 0, 0, time.UTC)
		got, served := c.Classify(now)
		if served != tc.served || got != tc.want {
			t.Errorf("Classify(%02d:%02d) = %q, %v; want %q, %v",
				tc.hour, tc.minute, got, served, tc.want, tc.served)
		}
	}
}

func TestClassifierTimezoneFallback(t *testing.T) {
	c := NewClassifier("Not/AZone", nil)
	if c.loc != time.Local {
		t.Fatal("unknown timezone should fall back to the host clock")
	}
}

func TestClassifierWeekdayCrossesMidnight(t *testing.T) {
	c := NewClassifier("America/Panama", nil)
	// 03:00 UTC Saturday is still Friday evening in Panama (UTC-5).
	now := time.Date(2025, 3, 8, 3, 0, 0, 0, time.UTC)
	if got := c.Weekday(now); got != time.Friday {
		t.Fatalf("Weekday = %v, want Friday", got)
	}
}

func TestClassifierToday(t *testing.T) {
	c := NewClassifier("UTC", nil)
	now := time.Date(2025, 3, 4, 11, 30, 45, 0, time.UTC)
	day := c.Today(now)
	if day.Hour() != 0 || day.Minute() != 0 || day.Day() != 4 {
		t.Fatalf("Today = %v, want midnight of the same date", day)
	}
}
