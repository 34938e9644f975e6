package emotion

import (
	"sort"
	"strings"
)

// Label 规范化后的情绪标签
type Label string

const (
	Happy    Label = "happy"
	Sad      Label = "sad"
	Angry    Label = "angry"
	Fear     Label = "fear"
	Surprise Label = "surprise"
	Disgust  Label = "disgust"
	Neutral  Label = "neutral"

	NoFace  Label = "no_face"
	Unknown Label = "unknown"
)

// Classes 七类情绪，顺序与导出模型的输出一致
var Classes = []Label{Happy, Sad, Angry, Fear, Surprise, Disgust, Neutral}

// aliases 各模型/数据集标签到统一标签的映射
var aliases = map[string]Label{
	"hap":       Happy,
	"happiness": Happy,
	"happy":     Happy,
	"joy":       Happy,
	"joyful":    Happy,

	"sad":       Sad,
	"sadness":   Sad,
	"sadnesss":  Sad,
	"depressed": Sad,
	"unhappy":   Sad,
	"sorrowful": Sad,

	"angry":     Angry,
	"anger":     Angry,
	"angriness": Angry,
	"hate":      Angry,
	"furious":   Angry,

	"fear":      Fear,
	"fearful":   Fear,
	"afraid":    Fear,
	"scared":    Fear,
	"terrified": Fear,

	"surprise":   Surprise,
	"surprised":  Surprise,
	"surprising": Surprise,
	"shocked":    Surprise,
	"amazed":     Surprise,

	"disgust":   Disgust,
	"dis":       Disgust,
	"disgusted": Disgust,
	"contempt":  Disgust,
	"revolted":  Disgust,
	"nauseated": Disgust,

	"neutral":    Neutral,
	"ne":         Neutral,
	"none":       Neutral,
	"no_emotion": Neutral,
	"calm":       Neutral,

	"no_face": NoFace,
	"noface":  NoFace,
	"unknown": Unknown,
}

// fuzzyKeys 可用于子串匹配的别名（长度>=4），按长度降序
var fuzzyKeys = func() []string {
	keys := make([]string, 0, len(aliases))
	for k, v := range aliases {
		if len(k) >= 4 && v != Unknown && v != NoFace {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// Canonicalize 将原始标签映射为统一标签，无法识别时返回 Unknown
func Canonicalize(raw string) Label {
	key := cleanKey(raw)
	if key == "" {
		return Unknown
	}
	if l, ok := aliases[key]; ok {
		return l
	}
	for _, k := range fuzzyKeys {
		if strings.Contains(key, k) {
			return aliases[k]
		}
	}
	return Unknown
}

// IsEmotion 是否为七类情绪之一
func (l Label) IsEmotion() bool {
	for _, c := range Classes {
		if l == c {
			return true
		}
	}
	return false
}

func (l Label) String() string { return string(l) }

func cleanKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	return key
}
