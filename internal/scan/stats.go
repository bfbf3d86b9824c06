package scan

import (
	"log"
	"slices"

	"github.com/samber/lo"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
)

// DefaultMinSuccessRate flags a view as degraded below 50% success.
const DefaultMinSuccessRate = 0.5

// finalize copies the per-view stats into the report in view order, flags
// degraded views and logs the summary. A zero minRate only flags dead views.
func finalize(prefix string, report *models.Report, stats map[int]*models.StationStats, minRate float64) {
	ids := lo.Keys(stats)
	slices.Sort(ids)

	log.Printf("%s: === detection statistics ===", prefix)
	report.Views = report.Views[:0]
	for _, id := range ids {
		s := *stats[id]
		if s.Attempts > 0 {
			rate := s.SuccessRate()
			s.Degraded = s.Dead || rate < minRate
			log.Printf("%s: view %d: %d/%d detected (%.1f%%), %d failures, %d timeouts, %d errors",
				prefix, id, s.Successes, s.Attempts, rate*100, s.Failures, s.Timeouts, s.Errors)
			if s.Degraded {
				log.Printf("%s: WARNING view %d is degraded (success rate %.1f%% < %.1f%%), check camera connection and positioning",
					prefix, id, rate*100, minRate*100)
			}
		}
		report.Views = append(report.Views, s)
	}
}
