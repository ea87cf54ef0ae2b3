package model

import "time"

// WeatherSample is one reading from the weather oracle.
type WeatherSample struct {
	Temperature int64     `json:"temperature"` // degrees Celsius
	Humidity    int64     `json:"humidity"`    // percent
	Rainfall    int64     `json:"rainfall"`    // millimetres
	WindSpeed   int64     `json:"wind_speed"`  // km/h
	Timestamp   time.Time `json:"timestamp"`
}

// CropRequirement is the registered growing/handling condition window for
// a crop. Suitability is checked against an oracle sample with fixed
// tolerances; a crop with no registered requirement is always suitable.
type CropRequirement struct {
	Crop          string    `json:"crop"`
	IdealTemp     int64     `json:"ideal_temperature"`
	IdealHumidity int64     `json:"ideal_humidity"`
	MaxRainfall   int64     `json:"max_rainfall"`
	CreatedAt     time.Time `json:"created_at"`
}

// Weather tolerance windows around a registered requirement.
const (
	WeatherTempTolerance     = 5  // +/- degrees
	WeatherHumidityTolerance = 10 // +/- percentage points
	WeatherRainfallHeadroom  = 50 // mm above the registered ceiling
)

// Suitable reports whether the sample falls inside the requirement's
// tolerance window.
func (r *CropRequirement) Suitable(s WeatherSample) bool {
	if diff := s.Temperature - r.IdealTemp; diff < -WeatherTempTolerance || diff > WeatherTempTolerance {
		return false
	}
	if diff := s.Humidity - r.IdealHumidity; diff < -WeatherHumidityTolerance || diff > WeatherHumidityTolerance {
		return false
	}
	return s.Rainfall <= r.MaxRainfall+WeatherRainfallHeadroom
}
