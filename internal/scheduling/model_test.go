package scheduling

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "09:30", want: 9*60 + 30},
		{in: "23:59", want: 23*60 + 59},
		{in: "24:00", wantErr: true},
		{in: "09:60", wantErr: true},
		{in: "9:30", wantErr: true},
		{in: "09:30xyz", wantErr: true},
		{in: "09-30", wantErr: true},
		{in: "0a:30", wantErr: true},
		{in: "nine", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range tests {
		got, err := ParseTimeOfDay(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseTimeOfDay(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimeOfDay(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseTimeOfDay(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestTimeOfDayRoundTrip(t *testing.T) {
	tod := mustTime(t, "14:05")
	if tod.String() != "14:05" {
		t.Errorf("String() = %q, want 14:05", tod.String())
	}

	data, err := json.Marshal(tod)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"14:05"` {
		t.Errorf("marshal = %s, want \"14:05\"", data)
	}

	var back TimeOfDay
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != tod {
		t.Errorf("round trip = %d, want %d", back, tod)
	}

	if err := json.Unmarshal([]byte(`"25:00"`), &back); err == nil {
		t.Error("unmarshal 25:00 should fail")
	}
}

func TestTimeOfDayAt(t *testing.T) {
	day := time.Date(2026, time.September, 2, 17, 45, 12, 0, time.UTC)
	got := mustTime(t, "09:30").At(day)
	want := time.Date(2026, time.September, 2, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("At = %v, want %v", got, want)
	}
}

func TestDayNormalization(t *testing.T) {
	in := time.Date(2026, time.September, 2, 23, 59, 0, 0, time.FixedZone("X", -3*3600))
	got := Day(in)
	// 23:59 at UTC-3 is already the next day in UTC.
	want := time.Date(2026, time.September, 3, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Day = %v, want %v", got, want)
	}
	if DayKey(in) != "2026-09-03" {
		t.Errorf("DayKey = %q, want 2026-09-03", DayKey(in))
	}

	parsed, err := ParseDay("2026-09-03")
	if err != nil {
		t.Fatalf("ParseDay: %v", err)
	}
	if !parsed.Equal(want) {
		t.Errorf("ParseDay = %v, want %v", parsed, want)
	}
	if _, err := ParseDay("03/09/2026"); err == nil {
		t.Error("ParseDay with wrong layout should fail")
	}
}

func TestWindowGeometry(t *testing.T) {
	w := AvailabilityWindow{Start: mustTime(t, "09:00"), End: mustTime(t, "10:00")}

	if !w.Contains(mustTime(t, "09:00")) || !w.Contains(mustTime(t, "09:59")) {
		t.Error("window must contain its start and interior")
	}
	if w.Contains(mustTime(t, "10:00")) {
		t.Error("window end is exclusive")
	}

	if !w.Overlaps(mustTime(t, "09:30"), mustTime(t, "10:30")) {
		t.Error("partial overlap not detected")
	}
	if w.Overlaps(mustTime(t, "10:00"), mustTime(t, "11:00")) {
		t.Error("adjacent windows must not overlap")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusScheduled.Terminal() {
		t.Error("scheduled is not terminal")
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Error("completed and cancelled are terminal")
	}
}
