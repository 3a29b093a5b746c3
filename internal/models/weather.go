package models

import "time"

// Units selects the unit system for temperatures and wind speeds.
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

// Valid reports whether u is a recognized unit system.
func (u Units) Valid() bool {
	return u == UnitsMetric || u == UnitsImperial
}

// Coordinates is a geographic point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CurrentConditions is the normalized current-weather payload served to
// clients and stored in the cache. Entries are replaced wholesale on refresh,
// never mutated field by field.
type CurrentConditions struct {
	Location      string      `json:"location"`
	Temperature   float64     `json:"temperature"`
	FeelsLike     float64     `json:"feelsLike"`
	Condition     string      `json:"condition"`
	WeatherCode   int         `json:"weatherCode"`
	Humidity      float64     `json:"humidity"`
	WindSpeed     float64     `json:"windSpeed"`
	WindDirection float64     `json:"windDirection"`
	Pressure      float64     `json:"pressure"`
	Precipitation float64     `json:"precipitation"`
	UVIndex       float64     `json:"uvIndex"`
	Visibility    float64     `json:"visibility"` // kilometers
	AirQuality    float64     `json:"airQuality"` // US AQI, 0-500 scale
	Sunrise       string      `json:"sunrise"`
	Sunset        string      `json:"sunset"`
	IsDay         bool        `json:"isDay"`
	Coordinates   Coordinates `json:"coordinates"`
	Timestamp     time.Time   `json:"timestamp"`
}

// DailyConditions is one day of forecast or historical data.
type DailyConditions struct {
	Date                string  `json:"date"`
	MaxTemp             float64 `json:"maxTemp"`
	MinTemp             float64 `json:"minTemp"`
	PrecipitationChance float64 `json:"precipitationChance,omitempty"`
	PrecipitationSum    float64 `json:"precipitationSum,omitempty"`
	Condition           string  `json:"condition,omitempty"`
	WeatherCode         int     `json:"weatherCode,omitempty"`
	Sunrise             string  `json:"sunrise,omitempty"`
	Sunset              string  `json:"sunset,omitempty"`
	UVIndex             float64 `json:"uvIndex,omitempty"`
	WindSpeed           float64 `json:"windSpeed,omitempty"`
}

// HourlyConditions is one hour of forecast data.
type HourlyConditions struct {
	Time                string  `json:"time"`
	Temperature         float64 `json:"temperature"`
	Condition           string  `json:"condition"`
	PrecipitationChance float64 `json:"precipitationChance"`
	Humidity            float64 `json:"humidity"`
	WindSpeed           float64 `json:"windSpeed"`
}

// QueryRecord is a per-user weather lookup, retained for a limited time.
type QueryRecord struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	City      string            `json:"city"`
	Country   string            `json:"country,omitempty"`
	Latitude  float64           `json:"latitude"`
	Longitude float64           `json:"longitude"`
	Weather   CurrentConditions `json:"weatherData"`
	QueryType string            `json:"queryType"`
	QueriedAt time.Time         `json:"queriedAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Favorite is a user-saved location.
type Favorite struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	City      string    `json:"city"`
	Country   string    `json:"country,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"createdAt"`
}
