package emotion

import "math"

var engagementWeights = map[Label]float64{
	Happy:    30,
	Surprise: 20,
	Neutral:  10,
	Sad:      -20,
	Fear:     -25,
	Disgust:  -30,
	Angry:    -35,
	NoFace:   -60,
}

// Engagement 根据情绪与置信度(0-1)计算 0-100 的专注度分数
func Engagement(l Label, confidence float64) int {
	factor := 0.7 + clamp01(confidence)*0.5
	score := math.Round(50 + engagementWeights[l]*factor)
	return int(math.Max(0, math.Min(100, score)))
}
