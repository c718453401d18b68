// Copyright 2025 Umbra Observatory Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sitemon

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/model/textparse"
)

// Exposition series the scraper understands. The station exports more; the
// safety decision needs exactly these.
const (
	seriesRainRate    = "weather_rain_rate_mm_per_hour"
	seriesWindSpeed   = "weather_wind_speed_kph"
	seriesCloudCover  = "weather_cloud_cover_percent"
	seriesTemperature = "weather_temperature_celsius"
	seriesSiteSafe    = "site_safe"
)

// WeatherReading is one decoded scrape of the station exporter.
type WeatherReading struct {
	At                time.Time `json:"at"`
	RainRateMmPerHour float64   `json:"rainRateMmPerHour"`
	WindSpeedKph      float64   `json:"windSpeedKph"` // worst sensor when the station has several
	CloudCoverPercent float64   `json:"cloudCoverPercent"`
	AmbientCelsius    float64   `json:"ambientCelsius"`
	SkyCelsius        float64   `json:"skyCelsius"`
	StationSafe       bool      `json:"stationSafe"` // the station's own verdict
}

// SkyDelta returns sky minus ambient temperature. An IR cloud sensor reads
// a clear sky tens of degrees colder than the air; a delta near zero means
// overcast.
func (r WeatherReading) SkyDelta() float64 {
	return r.SkyCelsius - r.AmbientCelsius
}

// ParseReadingFast decodes a station exposition into a WeatherReading with
// the streaming Prometheus parser. The scrape runs every few seconds for the
// life of the process, so the hot path avoids the generic expfmt decoder and
// touches labels only for the one family that needs them.
//
// Every series the safety decision depends on is required: a station that
// stopped exporting its rain gauge must read as broken, not as dry.
func ParseReadingFast(b []byte) (WeatherReading, error) {
	var (
		r WeatherReading

		foundRain, foundWind, foundCloud     bool
		foundAmbient, foundSky, foundVerdict bool
	)

	p := textparse.NewPromParser(b, labels.NewSymbolTable(), false)

	for {
		typ, err := p.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return r, fmt.Errorf("iterating metric stream: %w", err)
		}

		if typ != textparse.EntrySeries {
			continue
		}

		metricBytes, _, val := p.Series()
		mName := seriesName(metricBytes)

		// Allocate a label set only when we need one.
		var lbls labels.Labels
		if mName == seriesTemperature {
			p.Labels(&lbls)
		}

		switch mName {
		case seriesRainRate:
			r.RainRateMmPerHour = val
			foundRain = true

		case seriesWindSpeed:
			// Stations with more than one anemometer expose one series per
			// sensor; the worst reading governs safety.
			if !foundWind || val > r.WindSpeedKph {
				r.WindSpeedKph = val
			}

			foundWind = true

		case seriesCloudCover:
			r.CloudCoverPercent = val
			foundCloud = true

		case seriesTemperature:
			switch lbls.Get("probe") {
			case "ambient":
				r.AmbientCelsius = val
				foundAmbient = true
			case "sky":
				r.SkyCelsius = val
				foundSky = true
			}

		case seriesSiteSafe:
			r.StationSafe = val != 0
			foundVerdict = true
		}
	}

	switch {
	case !foundRain:
		return r, fmt.Errorf("metric %s not found", seriesRainRate)
	case !foundWind:
		return r, fmt.Errorf("metric %s not found", seriesWindSpeed)
	case !foundCloud:
		return r, fmt.Errorf("metric %s not found", seriesCloudCover)
	case !foundAmbient:
		return r, fmt.Errorf(`metric %s with label probe="ambient" not found`, seriesTemperature)
	case !foundSky:
		return r, fmt.Errorf(`metric %s with label probe="sky" not found`, seriesTemperature)
	case !foundVerdict:
		return r, fmt.Errorf("metric %s not found", seriesSiteSafe)
	}

	return r, nil
}

// seriesName strips the label block without allocating for the common
// unlabeled case.
func seriesName(b []byte) string {
	if b == nil {
		return ""
	}

	if i := bytes.IndexByte(b, '{'); i > 0 {
		return string(b[:i])
	}

	return string(b)
}

// Family is one exposition family flattened for the debug listing.
type Family struct {
	Name    string   `json:"name"`
	Help    string   `json:"help,omitempty"`
	Type    string   `json:"type"`
	Samples []Sample `json:"samples"`
}

// Sample is one series of a family.
type Sample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// ParseFamilies decodes the full exposition with the generic expfmt decoder,
// sorted by family name. This is the slow path behind the debug listing; the
// scrape loop never calls it.
func ParseFamilies(b []byte) ([]Family, error) {
	var parser expfmt.TextParser

	mf, err := parser.TextToMetricFamilies(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to parse metric families: %w", err)
	}

	names := make([]string, 0, len(mf))
	for name := range mf {
		names = append(names, name)
	}

	sort.Strings(names)

	families := make([]Family, 0, len(names))

	for _, name := range names {
		family := mf[name]

		samples := make([]Sample, 0, len(family.Metric))
		for _, metric := range family.Metric {
			samples = append(samples, Sample{
				Labels: labelMap(metric),
				Value:  metricValue(metric),
			})
		}

		families = append(families, Family{
			Name:    name,
			Help:    family.GetHelp(),
			Type:    family.GetType().String(),
			Samples: samples,
		})
	}

	return families, nil
}

// metricValue extracts the numeric value regardless of metric type.
func metricValue(m *dto.Metric) float64 {
	if m.Counter != nil {
		return m.Counter.GetValue()
	}

	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}

	if m.Untyped != nil {
		return m.Untyped.GetValue()
	}

	return 0
}

// labelMap collects a metric's labels, nil when it has none.
func labelMap(m *dto.Metric) map[string]string {
	if len(m.Label) == 0 {
		return nil
	}

	out := make(map[string]string, len(m.Label))
	for _, label := range m.Label {
		out[label.GetName()] = label.GetValue()
	}

	return out
}
