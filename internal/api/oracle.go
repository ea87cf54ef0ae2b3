package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/agritrace/agritrace/internal/model"
	"github.com/agritrace/agritrace/internal/oracle"
	"github.com/agritrace/agritrace/internal/store"
)

// OracleHandler serves feed readings, sample pushes, and crop
// requirement administration.
type OracleHandler struct {
	DB   *sql.DB
	Feed oracle.Feed
}

type pushPriceRequest struct {
	Value    int64 `json:"value"`
	Decimals int64 `json:"decimals"`
}

type pushWeatherRequest struct {
	Temperature int64 `json:"temperature"`
	Humidity    int64 `json:"humidity"`
	Rainfall    int64 `json:"rainfall"`
	WindSpeed   int64 `json:"wind_speed"`
}

type cropRequirementRequest struct {
	Crop          string `json:"crop"`
	IdealTemp     int64  `json:"ideal_temperature"`
	IdealHumidity int64  `json:"ideal_humidity"`
	MaxRainfall   int64  `json:"max_rainfall"`
}

// GetPrice handles GET /api/oracle/price.
func (h *OracleHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	quote, err := h.Feed.CurrentPrice(r.Context())
	if err != nil {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, quote)
}

// GetWeather handles GET /api/oracle/weather.
func (h *OracleHandler) GetWeather(w http.ResponseWriter, r *http.Request) {
	sample, err := h.Feed.CurrentWeather(r.Context())
	if err != nil {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, sample)
}

// PushPrice handles POST /api/oracle/price (admin).
func (h *OracleHandler) PushPrice(w http.ResponseWriter, r *http.Request) {
	var req pushPriceRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := oracle.PushPrice(r.Context(), h.DB, req.Value, req.Decimals); err != nil {
		storeError(w, err)
		return
	}

	slog.Info("price sample pushed", "value", req.Value, "decimals", req.Decimals)
	jsonResponse(w, http.StatusCreated, map[string]string{"message": "price sample recorded"})
}

// PushWeather handles POST /api/oracle/weather (admin).
func (h *OracleHandler) PushWeather(w http.ResponseWriter, r *http.Request) {
	var req pushWeatherRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sample := model.WeatherSample{
		Temperature: req.Temperature,
		Humidity:    req.Humidity,
		Rainfall:    req.Rainfall,
		WindSpeed:   req.WindSpeed,
	}
	if err := oracle.PushWeather(r.Context(), h.DB, sample); err != nil {
		storeError(w, err)
		return
	}

	slog.Info("weather sample pushed", "temperature", req.Temperature, "humidity", req.Humidity)
	jsonResponse(w, http.StatusCreated, map[string]string{"message": "weather sample recorded"})
}

// RegisterCrop handles POST /api/crops (admin).
func (h *OracleHandler) RegisterCrop(w http.ResponseWriter, r *http.Request) {
	gctx, ok := mustGate(w, r)
	if !ok {
		return
	}

	var req cropRequirementRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Crop == "" {
		jsonError(w, http.StatusBadRequest, "crop name required")
		return
	}

	if err := store.RegisterCropRequirement(r.Context(), h.DB, gctx, req.Crop,
		req.IdealTemp, req.IdealHumidity, req.MaxRainfall); err != nil {
		storeError(w, err)
		return
	}

	slog.Info("crop requirement registered", "crop", req.Crop)
	jsonResponse(w, http.StatusCreated, map[string]string{"message": "crop requirement registered"})
}

// ListCrops handles GET /api/crops.
func (h *OracleHandler) ListCrops(w http.ResponseWriter, r *http.Request) {
	crops, err := store.ListCropRequirements(r.Context(), h.DB)
	if err != nil {
		storeError(w, err)
		return
	}
	if crops == nil {
		crops = []model.CropRequirement{}
	}
	jsonResponse(w, http.StatusOK, crops)
}
