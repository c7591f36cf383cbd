package metrics

import "time"

func FetchFinished(platform, status string) {
	FetchOutcomes.WithLabelValues(platform, status).Inc()
}

func FetchRetried(platform, reason string) {
	FetchRetries.WithLabelValues(platform, reason).Inc()
}

func FallbackRendered(platform string, ok bool) {
	FallbackRenders.WithLabelValues(platform, result(ok)).Inc()
}

func OCRImage(ok bool) {
	OCRImages.WithLabelValues(result(ok)).Inc()
}

func RuleViolated(ruleID string) {
	RuleViolations.WithLabelValues(ruleID).Inc()
}

func CorrectionFinished(outcome string) {
	Corrections.WithLabelValues(outcome).Inc()
}

func PipelineFinished(platform, status string, d time.Duration) {
	PipelineDuration.WithLabelValues(platform, status).Observe(d.Seconds())
}

func OutboxRelayed(ok bool) {
	OutboxPublished.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
