// Package weather provides the current-weather capability backed by the
// Open-Meteo geocoding and forecast APIs (no API key required).
package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/hupe1980/concierge/capability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Name is the capability identifier exposed to the worker model.
const Name = "get_weather"

// Options configure the Open-Meteo client.
type Options struct {
	GeocodingURL string
	ForecastURL  string
	HTTPClient   *http.Client
	ServiceName  string
}

// Args is the argument struct of the capability.
type Args struct {
	Location string `json:"location" description:"City or place name, e.g. Oslo"`
}

// Report is the structured result of a lookup.
type Report struct {
	Location    string  `json:"location"`
	Country     string  `json:"country"`
	Temperature float64 `json:"temperature_c"`
	WindSpeed   float64 `json:"wind_speed_kmh"`
	Condition   string  `json:"condition"`
}

// String renders the report the way workers quote it.
func (r Report) String() string {
	place := r.Location
	if r.Country != "" {
		place += ", " + r.Country
	}
	return fmt.Sprintf("%s: %s°C, %s, wind %s km/h", place,
		strconv.FormatFloat(r.Temperature, 'f', 1, 64), r.Condition,
		strconv.FormatFloat(r.WindSpeed, 'f', 1, 64))
}

// Client queries Open-Meteo.
type Client struct {
	opts Options
}

// NewClient creates a client with public Open-Meteo endpoints by default.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{
		GeocodingURL: "https://geocoding-api.open-meteo.com/v1/search",
		ForecastURL:  "https://api.open-meteo.com/v1/forecast",
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		ServiceName:  "weather service",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{opts: opts}
}

// New returns the weather capability.
func New(optFns ...func(o *Options)) *capability.FunctionCapability {
	c := NewClient(optFns...)
	return capability.NewFunctionFromStruct(Name, c.opts.ServiceName,
		"Get the current weather (temperature, conditions, wind) for a city.",
		Args{},
		func(ctx context.Context, args map[string]any) (string, error) {
			loc, _ := args["location"].(string)
			report, err := c.Current(ctx, loc)
			if err != nil {
				return "", err
			}
			return report.String(), nil
		})
}

type geocodingResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

// Current resolves location and fetches its current conditions.
func (c *Client) Current(ctx context.Context, location string) (*Report, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, capability.NewError(Name, "location is required", capability.CodeValidation)
	}

	var geo geocodingResponse
	q := url.Values{"name": {location}, "count": {"1"}, "language": {"en"}, "format": {"json"}}
	if err := c.getJSON(ctx, c.opts.GeocodingURL, q, &geo); err != nil {
		return nil, err
	}
	if len(geo.Results) == 0 {
		return nil, capability.NewError(Name, fmt.Sprintf("unknown location %q", location), capability.CodeNotFound)
	}
	place := geo.Results[0]

	var fc forecastResponse
	q = url.Values{
		"latitude":  {strconv.FormatFloat(place.Latitude, 'f', 4, 64)},
		"longitude": {strconv.FormatFloat(place.Longitude, 'f', 4, 64)},
		"current":   {"temperature_2m,wind_speed_10m,weather_code"},
	}
	if err := c.getJSON(ctx, c.opts.ForecastURL, q, &fc); err != nil {
		return nil, err
	}

	return &Report{
		Location:    place.Name,
		Country:     place.Country,
		Temperature: fc.Current.Temperature,
		WindSpeed:   fc.Current.WindSpeed,
		Condition:   Describe(fc.Current.WeatherCode),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return capability.NewError(Name, err.Error(), capability.CodeExecution)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return capability.Unavailable(Name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return capability.Unavailable(Name, fmt.Errorf("upstream status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return capability.NewError(Name, fmt.Sprintf("upstream status %d", resp.StatusCode), capability.CodeExecution)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return capability.NewError(Name, fmt.Sprintf("decode response: %v", err), capability.CodeExecution)
	}
	return nil
}

// Describe maps a WMO weather code to a short condition.
func Describe(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 2:
		return "partly cloudy"
	case code == 3:
		return "overcast"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67, code >= 80 && code <= 82:
		return "rain"
	case code >= 71 && code <= 77, code == 85 || code == 86:
		return "snow"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown conditions"
	}
}
