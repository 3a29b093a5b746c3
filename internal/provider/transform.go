package provider

import (
	"time"

	"github.com/atmosdeck/weather-dashboard-service/internal/models"
)

// forecastResponse is the subset of the Open-Meteo forecast payload consumed
// for current conditions. The upstream schema is otherwise opaque.
type forecastResponse struct {
	Current struct {
		Temperature2m       float64  `json:"temperature_2m"`
		RelativeHumidity2m  float64  `json:"relative_humidity_2m"`
		ApparentTemperature float64  `json:"apparent_temperature"`
		Precipitation       float64  `json:"precipitation"`
		WeatherCode         int      `json:"weather_code"`
		PressureMsl         float64  `json:"pressure_msl"`
		WindSpeed10m        float64  `json:"wind_speed_10m"`
		WindDirection10m    float64  `json:"wind_direction_10m"`
		IsDay               int      `json:"is_day"`
		Visibility          *float64 `json:"visibility"`
	} `json:"current"`
	Daily struct {
		Sunrise    []string  `json:"sunrise"`
		Sunset     []string  `json:"sunset"`
		UVIndexMax []float64 `json:"uv_index_max"`
	} `json:"daily"`
}

type airQualityResponse struct {
	Current struct {
		USAQI *float64 `json:"us_aqi"`
	} `json:"current"`
}

type dailyResponse struct {
	Daily struct {
		Time                        []string  `json:"time"`
		WeatherCode                 []int     `json:"weather_code"`
		Temperature2mMax            []float64 `json:"temperature_2m_max"`
		Temperature2mMin            []float64 `json:"temperature_2m_min"`
		Sunrise                     []string  `json:"sunrise"`
		Sunset                      []string  `json:"sunset"`
		UVIndexMax                  []float64 `json:"uv_index_max"`
		PrecipitationSum            []float64 `json:"precipitation_sum"`
		PrecipitationProbabilityMax []float64 `json:"precipitation_probability_max"`
		WindSpeed10mMax             []float64 `json:"wind_speed_10m_max"`
	} `json:"daily"`
}

type hourlyResponse struct {
	Hourly struct {
		Time                     []string  `json:"time"`
		Temperature2m            []float64 `json:"temperature_2m"`
		WeatherCode              []int     `json:"weather_code"`
		PrecipitationProbability []float64 `json:"precipitation_probability"`
		WindSpeed10m             []float64 `json:"wind_speed_10m"`
		RelativeHumidity2m       []float64 `json:"relative_humidity_2m"`
	} `json:"hourly"`
}

// weatherConditions maps WMO weather interpretation codes (WW, 0-99) to
// descriptive text, per the Open-Meteo documentation.
var weatherConditions = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	56: "Light freezing drizzle",
	57: "Dense freezing drizzle",
	61: "Slight rain",
	63: "Moderate rain",
	65: "Heavy rain",
	66: "Light freezing rain",
	67: "Heavy freezing rain",
	71: "Slight snow fall",
	73: "Moderate snow fall",
	75: "Heavy snow fall",
	77: "Snow grains",
	80: "Slight rain showers",
	81: "Moderate rain showers",
	82: "Violent rain showers",
	85: "Slight snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with slight hail",
	99: "Thunderstorm with heavy hail",
}

// ConditionText maps a WMO weather code to descriptive text, defaulting to
// "Unknown" for unmapped codes.
func ConditionText(code int) string {
	if text, ok := weatherConditions[code]; ok {
		return text
	}
	return "Unknown"
}

// normalizeVisibility converts meters to kilometers and applies the fog
// correction: Open-Meteo's visibility does not account well for fog, so for
// codes 45/48 it is capped at 2km, and at 1km when humidity exceeds 95%.
// A nil upstream value falls back to 10km.
func normalizeVisibility(meters *float64, weatherCode int, humidity float64) float64 {
	if meters == nil {
		return 10.0
	}
	km := *meters / 1000.0
	if weatherCode == 45 || weatherCode == 48 {
		if km > 2.0 {
			km = 2.0
		}
		if humidity > 95 && km > 1.0 {
			km = 1.0
		}
	}
	return km
}

// normalizeUVIndex reports the daily max UV index, forced to 0 at night
// regardless of the raw value.
func normalizeUVIndex(isDay bool, dailyMax float64) float64 {
	if !isDay {
		return 0
	}
	return dailyMax
}

// transformCurrent shapes the forecast and air-quality payloads into
// CurrentConditions. Location is left as "Unknown"; the service layer stamps
// the geocoded canonical name.
func transformCurrent(resp forecastResponse, airQuality float64, lat, lon float64) models.CurrentConditions {
	cur := resp.Current
	isDay := cur.IsDay != 0

	var sunrise, sunset string
	var uvMax float64
	if len(resp.Daily.Sunrise) > 0 {
		sunrise = resp.Daily.Sunrise[0]
	}
	if len(resp.Daily.Sunset) > 0 {
		sunset = resp.Daily.Sunset[0]
	}
	if len(resp.Daily.UVIndexMax) > 0 {
		uvMax = resp.Daily.UVIndexMax[0]
	}

	return models.CurrentConditions{
		Location:      "Unknown",
		Temperature:   cur.Temperature2m,
		FeelsLike:     cur.ApparentTemperature,
		Condition:     ConditionText(cur.WeatherCode),
		WeatherCode:   cur.WeatherCode,
		Humidity:      cur.RelativeHumidity2m,
		WindSpeed:     cur.WindSpeed10m,
		WindDirection: cur.WindDirection10m,
		Pressure:      cur.PressureMsl,
		Precipitation: cur.Precipitation,
		UVIndex:       normalizeUVIndex(isDay, uvMax),
		Visibility:    normalizeVisibility(cur.Visibility, cur.WeatherCode, cur.RelativeHumidity2m),
		AirQuality:    airQuality,
		Sunrise:       sunrise,
		Sunset:        sunset,
		IsDay:         isDay,
		Coordinates:   models.Coordinates{Lat: lat, Lon: lon},
		Timestamp:     time.Now().UTC(),
	}
}

// transformForecast shapes the daily payload into at most days entries. The
// upstream arrays are position-aligned on Daily.Time.
func transformForecast(resp dailyResponse, days int) []models.DailyConditions {
	d := resp.Daily
	n := len(d.Time)
	if n > days {
		n = days
	}
	out := make([]models.DailyConditions, 0, n)
	for i := 0; i < n; i++ {
		day := models.DailyConditions{Date: d.Time[i]}
		if i < len(d.WeatherCode) {
			day.WeatherCode = d.WeatherCode[i]
			day.Condition = ConditionText(d.WeatherCode[i])
		}
		if i < len(d.Temperature2mMax) {
			day.MaxTemp = d.Temperature2mMax[i]
		}
		if i < len(d.Temperature2mMin) {
			day.MinTemp = d.Temperature2mMin[i]
		}
		if i < len(d.PrecipitationProbabilityMax) {
			day.PrecipitationChance = d.PrecipitationProbabilityMax[i]
		}
		if i < len(d.Sunrise) {
			day.Sunrise = d.Sunrise[i]
		}
		if i < len(d.Sunset) {
			day.Sunset = d.Sunset[i]
		}
		if i < len(d.UVIndexMax) {
			day.UVIndex = d.UVIndexMax[i]
		}
		out = append(out, day)
	}
	return out
}

// transformHourly shapes the hourly payload into at most hours entries.
func transformHourly(resp hourlyResponse, hours int) []models.HourlyConditions {
	h := resp.Hourly
	n := len(h.Time)
	if n > hours {
		n = hours
	}
	out := make([]models.HourlyConditions, 0, n)
	for i := 0; i < n; i++ {
		hour := models.HourlyConditions{Time: h.Time[i]}
		if i < len(h.Temperature2m) {
			hour.Temperature = h.Temperature2m[i]
		}
		if i < len(h.WeatherCode) {
			hour.Condition = ConditionText(h.WeatherCode[i])
		}
		if i < len(h.PrecipitationProbability) {
			hour.PrecipitationChance = h.PrecipitationProbability[i]
		}
		if i < len(h.RelativeHumidity2m) {
			hour.Humidity = h.RelativeHumidity2m[i]
		}
		if i < len(h.WindSpeed10m) {
			hour.WindSpeed = h.WindSpeed10m[i]
		}
		out = append(out, hour)
	}
	return out
}

// transformHistorical shapes the archive payload. Unlike the forecast shape
// it reports the daily max temperature as the headline value.
func transformHistorical(resp dailyResponse) []models.DailyConditions {
	d := resp.Daily
	out := make([]models.DailyConditions, 0, len(d.Time))
	for i := range d.Time {
		day := models.DailyConditions{Date: d.Time[i]}
		if i < len(d.Temperature2mMax) {
			day.MaxTemp = d.Temperature2mMax[i]
		}
		if i < len(d.Temperature2mMin) {
			day.MinTemp = d.Temperature2mMin[i]
		}
		if i < len(d.PrecipitationSum) {
			day.PrecipitationSum = d.PrecipitationSum[i]
		}
		if i < len(d.WindSpeed10mMax) {
			day.WindSpeed = d.WindSpeed10mMax[i]
		}
		out = append(out, day)
	}
	return out
}
