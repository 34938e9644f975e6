package emotion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrUnusable 分类器返回结果无法使用
var ErrUnusable = errors.New("unusable classifier response")

// Region 分类器或检测器给出的人脸区域
type Region struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
	W int `json:"w" msgpack:"w"`
	H int `json:"h" msgpack:"h"`
}

// Response 分类器原始输出
type Response struct {
	Dominant string             `json:"dominant_emotion" msgpack:"dominant_emotion"`
	Scores   map[string]float64 `json:"emotion" msgpack:"emotion"`
	Region   *Region            `json:"region,omitempty" msgpack:"region,omitempty"`
}

// Reading 归一化后的单次分类结果
type Reading struct {
	Label      Label
	Raw        string
	Confidence float64
	Scores     map[Label]float64
	Region     *Region
}

var (
	dominantKeys = []string{"dominant_emotion", "dominantlabel", "dominant_label", "dominant", "label", "class"}
	scoreKeys    = []string{"emotion", "emotions", "scores", "probabilities", "predictions"}
)

// FromJSON 解析 JSON 格式的分类器输出（对象或单元素数组）
func FromJSON(data []byte) (*Response, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnusable, err)
	}
	return FromValue(v)
}

// FromValue 解析已解码的通用结构（JSON 或 msgpack）
func FromValue(v any) (*Response, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: empty response", ErrUnusable)
	case *Response:
		return t, nil
	case Response:
		return &t, nil
	case []any:
		if len(t) != 1 {
			return nil, fmt.Errorf("%w: expected one result, got %d", ErrUnusable, len(t))
		}
		return FromValue(t[0])
	case []*Response:
		if len(t) != 1 {
			return nil, fmt.Errorf("%w: expected one result, got %d", ErrUnusable, len(t))
		}
		return t[0], nil
	}

	raw, ok := asMap(v)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected type %T", ErrUnusable, v)
	}
	m := lowerKeys(raw)

	resp := &Response{Scores: map[string]float64{}}
	for _, k := range dominantKeys {
		if s, ok := m[k].(string); ok {
			resp.Dominant = s
			break
		}
	}
	for _, k := range scoreKeys {
		sm, ok := asMap(m[k])
		if !ok {
			continue
		}
		for label, raw := range sm {
			if f, ok := toFloat(raw); ok {
				resp.Scores[label] = f
			}
		}
		break
	}
	if len(resp.Scores) == 0 && resp.Dominant != "" {
		if f, ok := toFloat(m["confidence"]); ok {
			resp.Scores[resp.Dominant] = f
		}
	}
	if rm, ok := asMap(m["region"]); ok {
		resp.Region = regionFrom(lowerKeys(rm))
	}
	return resp, nil
}

// Normalize 统一标签大小写、置信度刻度，并映射到规范标签
func Normalize(resp *Response) (Reading, error) {
	if resp == nil {
		return Reading{}, fmt.Errorf("%w: nil response", ErrUnusable)
	}

	scores := make(map[string]float64, len(resp.Scores))
	for k, v := range resp.Scores {
		key := strings.ToLower(strings.TrimSpace(k))
		if old, ok := scores[key]; !ok || v > old {
			scores[key] = v
		}
	}
	if len(scores) == 0 {
		return Reading{}, fmt.Errorf("%w: no scores", ErrUnusable)
	}

	percent := IsPercentScale(scores)
	for k, v := range scores {
		scores[k] = scale(v, percent)
	}

	dominant := strings.ToLower(strings.TrimSpace(resp.Dominant))
	conf, ok := scores[dominant]
	if dominant == "" || !ok {
		dominant, conf = maxScore(scores)
	}

	canonical := make(map[Label]float64, len(scores))
	for k, v := range scores {
		l := Canonicalize(k)
		if !l.IsEmotion() {
			continue
		}
		canonical[l] = math.Min(1, canonical[l]+v)
	}

	var region *Region
	if resp.Region != nil {
		r := *resp.Region
		region = &r
	}

	return Reading{
		Label:      Canonicalize(dominant),
		Raw:        dominant,
		Confidence: conf,
		Scores:     canonical,
		Region:     region,
	}, nil
}

// IsPercentScale 任一分数大于1即视为百分制
func IsPercentScale(scores map[string]float64) bool {
	for _, v := range scores {
		if v > 1 {
			return true
		}
	}
	return false
}

// ToFraction 将单个置信度统一为 [0,1]，大于1的值按百分制处理
func ToFraction(v float64) float64 {
	return scale(v, v > 1)
}

// ToPercent 将 [0,1] 的置信度转为保留两位小数的百分数
func ToPercent(v float64) float64 {
	return math.Round(clamp01(v)*10000) / 100
}

func scale(v float64, percent bool) float64 {
	if percent {
		v /= 100
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// maxScore 返回最高分标签，分数相同时取字典序最小者
func maxScore(scores map[string]float64) (string, float64) {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestScore := "", -1.0
	for _, k := range keys {
		if scores[k] > bestScore {
			best, bestScore = k, scores[k]
		}
	}
	return best, bestScore
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if s, ok := k.(string); ok {
				out[s] = val
			}
		}
		return out, true
	case map[string]float64:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out, true
	}
	return nil, false
}

func lowerKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func regionFrom(m map[string]any) *Region {
	get := func(keys ...string) int {
		for _, k := range keys {
			if f, ok := toFloat(m[k]); ok {
				return int(math.Round(f))
			}
		}
		return 0
	}
	return &Region{
		X: get("x", "left"),
		Y: get("y", "top"),
		W: get("w", "width"),
		H: get("h", "height"),
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
