package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/quantumflow/scribe/internal/audit"
	"github.com/quantumflow/scribe/internal/models"
)

// Recommendation kinds
const (
	RecommendReplace  = "replace"
	RecommendScaleUp  = "scale-up"
	RecommendScaleOut = "scale-out"
)

// Recommendation is one optimization suggestion
type Recommendation struct {
	Kind        string           `json:"kind"`
	AgentID     string           `json:"agent_id,omitempty"`
	AgentType   models.AgentType `json:"agent_type,omitempty"`
	Quality     float64          `json:"quality,omitempty"`
	SuccessRate float64          `json:"success_rate,omitempty"`
	Reason      string           `json:"reason"`
}

// OptimizationReport lists optimization suggestions
type OptimizationReport struct {
	Recommendations []Recommendation `json:"recommendations"`
}

// Prediction kinds
const (
	PredictDecliningQuality = "declining-quality"
	PredictMemoryCapacity   = "memory-capacity"
	PredictHighVolume       = "high-volume"
)

// Prediction is a forecast problem
type Prediction struct {
	Kind        string           `json:"kind"`
	Severity    Severity         `json:"severity"`
	AgentID     string           `json:"agent_id,omitempty"`
	AgentType   models.AgentType `json:"agent_type,omitempty"`
	Value       float64          `json:"value"`
	Description string           `json:"description"`
}

// PredictionReport lists forecasts
type PredictionReport struct {
	Predictions []Prediction `json:"predictions"`
}

// SystemOptimization flags replacement, scale-up and scale-out candidates
// from per-container quality history
func (d *Doctor) SystemOptimization(ctx context.Context) *OptimizationReport {
	report := &OptimizationReport{}

	for _, c := range d.registry.All() {
		series := d.pool.QualitySeries(c.ID())
		health := c.Health()

		if len(series) >= d.cfg.MinSample {
			quality := mean(series)
			success := health.SuccessRate
			if m := d.pool.GetAgentMetrics(c.ID()); m.TotalActions > 0 {
				success = m.SuccessRate
			}

			switch {
			case quality < d.cfg.ReplaceQuality:
				report.Recommendations = append(report.Recommendations, Recommendation{
					Kind:        RecommendReplace,
					AgentID:     c.ID(),
					AgentType:   c.Type(),
					Quality:     quality,
					SuccessRate: success,
					Reason:      fmt.Sprintf("average quality %.1f below %.1f over %d executions", quality, d.cfg.ReplaceQuality, len(series)),
				})
			case quality > d.cfg.ScaleUpQuality && success > d.cfg.ScaleUpSuccess:
				report.Recommendations = append(report.Recommendations, Recommendation{
					Kind:        RecommendScaleUp,
					AgentID:     c.ID(),
					AgentType:   c.Type(),
					Quality:     quality,
					SuccessRate: success,
					Reason:      fmt.Sprintf("average quality %.1f with %.0f%% success", quality, success*100),
				})
			}
		}

		if health.AverageResponseTime > d.cfg.ResponseTimeCeiling {
			report.Recommendations = append(report.Recommendations, Recommendation{
				Kind:      RecommendScaleOut,
				AgentID:   c.ID(),
				AgentType: c.Type(),
				Reason:    fmt.Sprintf("average response time %s exceeds %s", health.AverageResponseTime.Round(time.Millisecond), d.cfg.ResponseTimeCeiling),
			})
		}
	}

	d.logger.Info("system optimization complete", "recommendations", len(report.Recommendations))
	d.record(ctx, audit.Entry{
		Task:    string(TaskSystemOptimization),
		Action:  "analyze",
		Success: true,
		Details: map[string]any{"recommendations": len(report.Recommendations)},
	})
	return report
}

// PredictiveAnalysis flags declining quality trends, memory pressure and
// high hourly action volume
func (d *Doctor) PredictiveAnalysis(ctx context.Context) *PredictionReport {
	report := &PredictionReport{}

	for _, c := range d.registry.All() {
		series := d.pool.QualitySeries(c.ID())
		if len(series) > d.cfg.TrendWindow {
			series = series[len(series)-d.cfg.TrendWindow:]
		}
		if len(series) < d.cfg.MinSample {
			continue
		}
		if slope := trendSlope(series); slope < -d.cfg.DeclineSlope {
			report.Predictions = append(report.Predictions, Prediction{
				Kind:        PredictDecliningQuality,
				Severity:    SeverityMedium,
				AgentID:     c.ID(),
				AgentType:   c.Type(),
				Value:       slope,
				Description: fmt.Sprintf("quality of %s declining by %.2f per execution", c.ID(), -slope),
			})
		}
	}

	if usage := d.pool.MemoryUsage(); usage > d.cfg.MemoryThreshold {
		report.Predictions = append(report.Predictions, Prediction{
			Kind:        PredictMemoryCapacity,
			Severity:    SeverityHigh,
			Value:       usage,
			Description: fmt.Sprintf("memory pool at %.0f%% of capacity", usage*100),
		})
	}

	volume := len(d.pool.ActionsSince(d.now().Add(-time.Hour)))
	if volume > d.cfg.HourlyVolumeThreshold {
		report.Predictions = append(report.Predictions, Prediction{
			Kind:        PredictHighVolume,
			Severity:    SeverityLow,
			Value:       float64(volume),
			Description: fmt.Sprintf("%d actions in the last hour; provision additional agents", volume),
		})
	}

	d.logger.Info("predictive analysis complete", "predictions", len(report.Predictions), "hourly_volume", volume)
	d.record(ctx, audit.Entry{
		Task:    string(TaskPredictiveAnalysis),
		Action:  "analyze",
		Success: true,
		Details: map[string]any{"predictions": len(report.Predictions), "hourly_volume": volume},
	})
	return report
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// trendSlope is the least-squares slope of xs against their index
func trendSlope(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sx, sy, sxy, sxx float64
	for i, y := range xs {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	denom := n*sxx - sx*sx
	if denom == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / denom
}
