package provider

import (
	"testing"
)

func TestConditionText(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "Clear sky"},
		{2, "Partly cloudy"},
		{45, "Fog"},
		{61, "Slight rain"},
		{95, "Thunderstorm"},
		{12, "Unknown"}, // unmapped
		{-1, "Unknown"},
		{100, "Unknown"},
	}
	for _, tt := range tests {
		if got := ConditionText(tt.code); got != tt.want {
			t.Errorf("ConditionText(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestNormalizeVisibility(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		meters   *float64
		code     int
		humidity float64
		want     float64
	}{
		{"clear sky passthrough", f(8000), 0, 50, 8.0},
		{"fog caps at 2km", f(8000), 45, 80, 2.0},
		{"rime fog caps at 2km", f(8000), 48, 80, 2.0},
		{"fog with very high humidity caps at 1km", f(8000), 45, 97, 1.0},
		{"fog below cap untouched", f(1500), 45, 80, 1.5},
		{"fog below 1km untouched even when humid", f(400), 48, 99, 0.4},
		{"missing visibility falls back to 10km", nil, 0, 50, 10.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeVisibility(tt.meters, tt.code, tt.humidity)
			if got != tt.want {
				t.Errorf("normalizeVisibility() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeUVIndex(t *testing.T) {
	if got := normalizeUVIndex(false, 7.5); got != 0 {
		t.Errorf("normalizeUVIndex(night) = %v, want 0", got)
	}
	if got := normalizeUVIndex(true, 7.5); got != 7.5 {
		t.Errorf("normalizeUVIndex(day) = %v, want 7.5", got)
	}
}

func TestTransformForecast_TruncatesToRequestedDays(t *testing.T) {
	var resp dailyResponse
	resp.Daily.Time = []string{"2026-08-23", "2026-08-24", "2026-08-25"}
	resp.Daily.WeatherCode = []int{0, 61, 3}
	resp.Daily.Temperature2mMax = []float64{25, 19, 22}
	resp.Daily.Temperature2mMin = []float64{14, 12, 13}

	got := transformForecast(resp, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Condition != "Clear sky" || got[1].Condition != "Slight rain" {
		t.Errorf("conditions = %q, %q", got[0].Condition, got[1].Condition)
	}
	if got[0].MaxTemp != 25 || got[0].MinTemp != 14 {
		t.Errorf("day 0 temps = %v/%v, want 25/14", got[0].MaxTemp, got[0].MinTemp)
	}
}

func TestTransformForecast_RaggedArrays(t *testing.T) {
	var resp dailyResponse
	resp.Daily.Time = []string{"2026-08-23", "2026-08-24"}
	resp.Daily.WeatherCode = []int{0} // shorter than time

	got := transformForecast(resp, 7)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].Condition != "" {
		t.Errorf("day without code should have empty condition, got %q", got[1].Condition)
	}
}

func TestTransformCurrent_StampsUnknownLocation(t *testing.T) {
	var resp forecastResponse
	resp.Current.Temperature2m = 18.5
	resp.Current.IsDay = 1
	resp.Daily.UVIndexMax = []float64{6.0}

	got := transformCurrent(resp, 42, 47.6, -122.3)
	if got.Location != "Unknown" {
		t.Errorf("Location = %q, want Unknown (stamped later by service layer)", got.Location)
	}
	if got.AirQuality != 42 {
		t.Errorf("AirQuality = %v, want 42", got.AirQuality)
	}
	if got.UVIndex != 6.0 {
		t.Errorf("UVIndex = %v, want 6.0", got.UVIndex)
	}
	if got.Coordinates.Lat != 47.6 || got.Coordinates.Lon != -122.3 {
		t.Errorf("Coordinates = %+v", got.Coordinates)
	}
}
