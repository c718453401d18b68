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
	"context"
	"fmt"
	"time"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/umbra-observatory/umbra-core/pkg/config"
)

const stationBase = "http://weather.station.local:9100"

// exposition renders a bare scrape body. The helper series are untyped on
// purpose: the station firmware emits no HELP or TYPE lines either.
func exposition(rain, windMast, windDome, cloud float64, safeFlag int) string {
	return fmt.Sprintf(`weather_rain_rate_mm_per_hour %g
weather_wind_speed_kph{sensor="mast"} %g
weather_wind_speed_kph{sensor="dome"} %g
weather_cloud_cover_percent %g
weather_temperature_celsius{probe="ambient"} 4.5
weather_temperature_celsius{probe="sky"} -28.3
site_safe %d
`, rain, windMast, windDome, cloud, safeFlag)
}

func stationConfig() config.SiteConfig {
	return config.SiteConfig{
		ExporterURL:           stationBase + "/metrics",
		ScrapeIntervalSeconds: 1,
	}
}

// interceptedMonitor builds a monitor whose HTTP client is routed through
// gock so specs can script the station's replies.
func interceptedMonitor(cfg config.SiteConfig) *Monitor {
	GinkgoHelper()

	m := NewMonitor(cfg)
	gock.InterceptClient(m.Client())

	return m
}

func stationReplies(body string) {
	gock.New(stationBase).
		Get("/metrics").
		Reply(200).
		BodyString(body)
}

var _ = Describe("Monitor", func() {
	AfterEach(func() {
		gock.Off()
	})

	It("identifies itself to the watchdog", func() {
		Expect(NewMonitor(stationConfig()).Name()).To(Equal(SourceName))
	})

	Context("before any scrape", func() {
		It("reports unsafe and has nothing to show", func() {
			m := NewMonitor(stationConfig())

			verdict := m.Verdict()
			Expect(verdict.Safe).To(BeFalse())
			Expect(verdict.Reason).To(Equal("no weather data yet"))

			_, ok := m.Reading()
			Expect(ok).To(BeFalse())

			_, err := m.Families()
			Expect(err).To(MatchError(ErrNoScrapeYet))
		})

		It("carries the scrape error in the verdict", func() {
			m := interceptedMonitor(stationConfig())
			gock.New(stationBase).
				Get("/metrics").
				Reply(500)

			m.scrapeAndRecord(context.Background())

			verdict := m.Verdict()
			Expect(verdict.Safe).To(BeFalse())
			Expect(verdict.Reason).To(ContainSubstring("no weather data yet: scraping"))
			Expect(verdict.Reason).To(ContainSubstring("unexpected status 500"))
		})
	})

	Context("on a clear night", func() {
		It("records the reading and judges the site safe", func() {
			m := interceptedMonitor(stationConfig())
			stationReplies(exposition(0, 14.2, 11.8, 12, 1))

			Expect(m.scrape(context.Background())).To(Succeed())

			reading, ok := m.Reading()
			Expect(ok).To(BeTrue())
			Expect(reading.WindSpeedKph).To(BeNumerically("~", 14.2, 0.001))
			Expect(reading.CloudCoverPercent).To(BeNumerically("~", 12, 0.001))
			Expect(reading.At).To(BeTemporally("~", time.Now(), time.Second))

			verdict := m.Verdict()
			Expect(verdict.Safe).To(BeTrue())
			Expect(verdict.Reason).To(BeEmpty())
			Expect(verdict.ObservedAt).To(Equal(reading.At))
		})

		It("serves the raw families for the status API", func() {
			m := interceptedMonitor(stationConfig())
			stationReplies(exposition(0, 14.2, 11.8, 12, 1))

			Expect(m.scrape(context.Background())).To(Succeed())

			families, err := m.Families()
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
	})

	Context("judging bad weather", func() {
		scrapeVerdict := func(body string) (string, bool) {
			GinkgoHelper()

			m := interceptedMonitor(stationConfig())
			stationReplies(body)
			Expect(m.scrape(context.Background())).To(Succeed())

			verdict := m.Verdict()

			return verdict.Reason, verdict.Safe
		}

		It("closes for rain before anything else", func() {
			reason, safe := scrapeVerdict(exposition(2.5, 78, 60, 85, 1))
			Expect(safe).To(BeFalse())
			Expect(reason).To(Equal("rain at 2.5 mm/h"))
		})

		It("closes for wind over the limit", func() {
			reason, safe := scrapeVerdict(exposition(0, 78, 60, 12, 1))
			Expect(safe).To(BeFalse())
			Expect(reason).To(Equal("wind 78.0 kph over the 50 kph limit"))
		})

		It("closes for cloud cover over the limit", func() {
			reason, safe := scrapeVerdict(exposition(0, 14, 11, 85, 1))
			Expect(safe).To(BeFalse())
			Expect(reason).To(Equal("cloud cover 85% over the 60% limit"))
		})

		It("trusts the station's own unsafe flag above all", func() {
			reason, safe := scrapeVerdict(exposition(0, 14, 11, 12, 0))
			Expect(safe).To(BeFalse())
			Expect(reason).To(Equal("station reports unsafe"))
		})

		It("honors configured limits over the defaults", func() {
			cfg := stationConfig()
			cfg.MaxWindSpeedKph = 90

			m := interceptedMonitor(cfg)
			stationReplies(exposition(0, 78, 60, 12, 1))
			Expect(m.scrape(context.Background())).To(Succeed())

			Expect(m.Verdict().Safe).To(BeTrue())
		})
	})

	Context("when the station goes quiet", func() {
		It("fails the scrape but keeps the last good reading", func() {
			m := interceptedMonitor(stationConfig())
			stationReplies(exposition(0, 14, 11, 12, 1))
			Expect(m.scrape(context.Background())).To(Succeed())

			gock.New(stationBase).
				Get("/metrics").
				Reply(500)
			m.scrapeAndRecord(context.Background())

			reading, ok := m.Reading()
			Expect(ok).To(BeTrue())
			Expect(reading.WindSpeedKph).To(BeNumerically("~", 14, 0.001))
			Expect(m.Verdict().Safe).To(BeTrue())
		})

		It("degrades to unsafe once the reading goes stale", func() {
			cfg := stationConfig()
			cfg.StalenessLimitSeconds = 1

			m := interceptedMonitor(cfg)
			stationReplies(exposition(0, 14, 11, 12, 1))
			Expect(m.scrape(context.Background())).To(Succeed())
			Expect(m.Verdict().Safe).To(BeTrue())

			m.mu.Lock()
			m.lastReading.At = time.Now().Add(-2 * time.Second)
			m.mu.Unlock()

			verdict := m.Verdict()
			Expect(verdict.Safe).To(BeFalse())
			Expect(verdict.Reason).To(ContainSubstring("old"))
		})

		It("surfaces a bad status code", func() {
			m := interceptedMonitor(stationConfig())
			gock.New(stationBase).
				Get("/metrics").
				Reply(500)

			err := m.scrape(context.Background())
			Expect(err).To(MatchError(ContainSubstring("unexpected status 500")))
		})
	})

	Context("Run", func() {
		It("runs as a disabled no-op when no exporter is configured", func() {
			// A fresh install has no exporter URL; Run must return clean so
			// the process errgroup keeps the rest of the night alive.
			m := NewMonitor(config.SiteConfig{})
			Expect(m.Enabled()).To(BeFalse())

			done := make(chan error, 1)
			go func() {
				done <- m.Run(context.Background())
			}()

			Eventually(done).Should(Receive(BeNil()))
		})

		It("reports enabled with an exporter configured", func() {
			Expect(NewMonitor(stationConfig()).Enabled()).To(BeTrue())
		})

		It("scrapes immediately and stops on cancel", func() {
			m := interceptedMonitor(stationConfig())
			stationReplies(exposition(0, 14, 11, 12, 1))

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)

			go func() {
				done <- m.Run(ctx)
			}()

			Eventually(func() bool {
				_, ok := m.Reading()

				return ok
			}, "2s", "10ms").Should(BeTrue())

			cancel()
			Eventually(done, "2s").Should(Receive(BeNil()))
		})
	})
})
