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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// cleanExposition is a full station scrape on a good night: light wind,
// nearly clear sky, no rain.
const cleanExposition = `# HELP weather_rain_rate_mm_per_hour Rain rate measured by the tipping bucket gauge
# TYPE weather_rain_rate_mm_per_hour gauge
weather_rain_rate_mm_per_hour 0
# HELP weather_wind_speed_kph Wind speed per anemometer
# TYPE weather_wind_speed_kph gauge
weather_wind_speed_kph{sensor="mast"} 14.2
weather_wind_speed_kph{sensor="dome"} 11.8
# HELP weather_cloud_cover_percent Cloud cover estimated from the IR sky sensor
# TYPE weather_cloud_cover_percent gauge
weather_cloud_cover_percent 12
# HELP weather_temperature_celsius Temperature per probe
# TYPE weather_temperature_celsius gauge
weather_temperature_celsius{probe="ambient"} 4.5
weather_temperature_celsius{probe="sky"} -28.3
# HELP site_safe The station's own safety verdict
# TYPE site_safe gauge
site_safe 1
`

var _ = Describe("ParseReadingFast", func() {
	It("decodes a full station exposition", func() {
		reading, err := ParseReadingFast([]byte(cleanExposition))
		Expect(err).NotTo(HaveOccurred())

		Expect(reading.RainRateMmPerHour).To(BeZero())
		Expect(reading.WindSpeedKph).To(BeNumerically("~", 14.2, 0.001))
		Expect(reading.CloudCoverPercent).To(BeNumerically("~", 12, 0.001))
		Expect(reading.AmbientCelsius).To(BeNumerically("~", 4.5, 0.001))
		Expect(reading.SkyCelsius).To(BeNumerically("~", -28.3, 0.001))
		Expect(reading.SkyDelta()).To(BeNumerically("~", -32.8, 0.001))
		Expect(reading.StationSafe).To(BeTrue())
	})

	It("takes the worst anemometer regardless of series order", func() {
		exposition := `weather_rain_rate_mm_per_hour 0
weather_wind_speed_kph{sensor="dome"} 31.5
weather_wind_speed_kph{sensor="mast"} 18.0
weather_cloud_cover_percent 5
weather_temperature_celsius{probe="ambient"} 2.0
weather_temperature_celsius{probe="sky"} -25.0
site_safe 1
`

		reading, err := ParseReadingFast([]byte(exposition))
		Expect(err).NotTo(HaveOccurred())
		Expect(reading.WindSpeedKph).To(BeNumerically("~", 31.5, 0.001))
	})

	It("ignores series it does not know", func() {
		exposition := cleanExposition + `weather_humidity_percent 55
weather_pressure_hpa{station="main"} 1013.2
`

		reading, err := ParseReadingFast([]byte(exposition))
		Expect(err).NotTo(HaveOccurred())
		Expect(reading.StationSafe).To(BeTrue())
	})

	It("treats a missing rain gauge as a broken station", func() {
		exposition := `weather_wind_speed_kph{sensor="mast"} 10
weather_cloud_cover_percent 5
weather_temperature_celsius{probe="ambient"} 2.0
weather_temperature_celsius{probe="sky"} -25.0
site_safe 1
`

		_, err := ParseReadingFast([]byte(exposition))
		Expect(err).To(MatchError(ContainSubstring("weather_rain_rate_mm_per_hour not found")))
	})

	It("requires both temperature probes", func() {
		exposition := `weather_rain_rate_mm_per_hour 0
weather_wind_speed_kph{sensor="mast"} 10
weather_cloud_cover_percent 5
weather_temperature_celsius{probe="ambient"} 2.0
site_safe 1
`

		_, err := ParseReadingFast([]byte(exposition))
		Expect(err).To(MatchError(ContainSubstring(`probe="sky" not found`)))
	})

	It("rejects a corrupt exposition", func() {
		_, err := ParseReadingFast([]byte("weather_rain_rate_mm_per_hour zzz\n"))
		Expect(err).To(MatchError(ContainSubstring("iterating metric stream")))
	})
})

var _ = Describe("ParseFamilies", func() {
	It("lists every family sorted by name", func() {
		families, err := ParseFamilies([]byte(cleanExposition))
		Expect(err).NotTo(HaveOccurred())

		names := make([]string, 0, len(families))
		for _, family := range families {
			names = append(names, family.Name)
		}

		Expect(names).To(Equal([]string{
			"site_safe",
			"weather_cloud_cover_percent",
			"weather_rain_rate_mm_per_hour",
			"weather_temperature_celsius",
			"weather_wind_speed_kph",
		}))
	})

	It("keeps labels and values per sample", func() {
		families, err := ParseFamilies([]byte(cleanExposition))
		Expect(err).NotTo(HaveOccurred())

		var wind Family
		for _, family := range families {
			if family.Name == "weather_wind_speed_kph" {
				wind = family
			}
		}

		Expect(wind.Help).To(ContainSubstring("anemometer"))
		Expect(wind.Type).To(Equal("GAUGE"))
		Expect(wind.Samples).To(HaveLen(2))

		values := make(map[string]float64, len(wind.Samples))
		for _, sample := range wind.Samples {
			values[sample.Labels["sensor"]] = sample.Value
		}

		Expect(values).To(HaveKeyWithValue("mast", BeNumerically("~", 14.2, 0.001)))
		Expect(values).To(HaveKeyWithValue("dome", BeNumerically("~", 11.8, 0.001)))
	})

	It("rejects a corrupt exposition", func() {
		_, err := ParseFamilies([]byte("### not { prometheus text\nvalue = 7\n"))
		Expect(err).To(MatchError(ContainSubstring("failed to parse metric families")))
	})
})
