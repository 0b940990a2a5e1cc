// Package weather wraps the open-meteo forecast/archive APIs, geocoding
// location names through nominatim.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	geocodeAPI  = "https://nominatim.openstreetmap.org/search"
	forecastAPI = "https://api.open-meteo.com/v1/forecast"
	archiveAPI  = "https://archive-api.open-meteo.com/v1/archive"
)

type Client struct {
	http      *http.Client
	userAgent string
}

func NewClient(userAgent string) *Client {
	return &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		userAgent: userAgent,
	}
}

// Fetch returns raw weather JSON for a location and date range. Ranges older
// than a week come from the archive API, everything else from the forecast
// API.
func (c *Client) Fetch(ctx context.Context, location string, start, end time.Time) (string, error) {
	lat, lon, err := c.geocode(ctx, location)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("latitude", lat)
	q.Set("longitude", lon)
	q.Set("start_date", start.UTC().Format("2006-01-02"))
	q.Set("end_date", end.UTC().Format("2006-01-02"))

	api := forecastAPI
	if start.Before(time.Now().AddDate(0, 0, -7)) {
		api = archiveAPI
		q.Set("daily", "temperature_2m_mean,temperature_2m_max,temperature_2m_min,rain_sum,snowfall_sum,precipitation_sum,wind_speed_10m_max")
		q.Set("hourly", "temperature_2m,apparent_temperature,rain,snowfall")
	} else {
		q.Set("daily", "temperature_2m_max,temperature_2m_min,rain_sum,snowfall_sum,precipitation_probability_max,wind_speed_10m_max")
		q.Set("hourly", "temperature_2m,apparent_temperature,rain,precipitation_probability")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", api+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating weather request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading weather response: %w", err)
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("weather api: %s %s", resp.Status, string(body))
	}
	return string(body), nil
}

func (c *Client) geocode(ctx context.Context, location string) (lat, lon string, err error) {
	q := url.Values{}
	q.Set("q", location)
	q.Set("format", "jsonv2")
	req, err := http.NewRequestWithContext(ctx, "GET", geocodeAPI+"?"+q.Encode(), nil)
	if err != nil {
		return "", "", fmt.Errorf("creating geocode request: %w", err)
	}
	// Nominatim requires an identifying User-Agent.
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", "", fmt.Errorf("geocode api: %s", resp.Status)
	}

	var places []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return "", "", fmt.Errorf("parsing geocode response: %w", err)
	}
	if len(places) == 0 {
		return "", "", fmt.Errorf("couldn't find coordinates for %q", location)
	}
	return places[0].Lat, places[0].Lon, nil
}
