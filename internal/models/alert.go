package models

import "time"

// Metric is the weather quantity an alert monitors. Closed set; stores and
// handlers validate against it, the evaluation engine treats anything else
// as value 0 rather than failing.
type Metric string

const (
	MetricTemperature   Metric = "temperature"
	MetricHumidity      Metric = "humidity"
	MetricWindSpeed     Metric = "wind_speed"
	MetricPrecipitation Metric = "precipitation"
)

// Valid reports whether m is a recognized metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricTemperature, MetricHumidity, MetricWindSpeed, MetricPrecipitation:
		return true
	}
	return false
}

// Comparison is the operator applied between observed value and threshold.
type Comparison string

const (
	ComparisonGreaterThan Comparison = "greater_than"
	ComparisonLessThan    Comparison = "less_than"
	ComparisonEquals      Comparison = "equals"
)

// Valid reports whether c is a recognized comparison operator.
func (c Comparison) Valid() bool {
	switch c {
	case ComparisonGreaterThan, ComparisonLessThan, ComparisonEquals:
		return true
	}
	return false
}

// AlertDefinition is a user-defined trigger condition on a location.
// Name, threshold and the active flag are owned by the CRUD layer; the
// evaluation engine writes only LastTriggered and TriggerCount.
type AlertDefinition struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Name          string     `json:"name"`
	Metric        Metric     `json:"type"`
	Threshold     float64    `json:"thresholdValue"`
	Comparison    Comparison `json:"comparison"`
	Location      string     `json:"location"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	Severity      string     `json:"severity"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastTriggered *time.Time `json:"lastTriggered"`
	TriggerCount  int        `json:"triggerCount"`
}

// TriggerEvent is an append-only record of one alert firing.
type TriggerEvent struct {
	ID          string    `json:"id"`
	AlertID     string    `json:"alertId"`
	UserID      string    `json:"userId"`
	AlertName   string    `json:"alertName"`
	Location    string    `json:"location"`
	Observed    float64   `json:"currentValue"`
	Threshold   float64   `json:"thresholdValue"`
	TriggeredAt time.Time `json:"triggeredAt"`
}
