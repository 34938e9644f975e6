package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/TIANLI0/MoodLens/cascade"
	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/TIANLI0/MoodLens/smoother"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Image     ImageConfig     `mapstructure:"image"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	LowLight  LowLightConfig  `mapstructure:"lowlight"`
	Cascade   CascadeConfig   `mapstructure:"cascade"`
	Smoothing SmoothingConfig `mapstructure:"smoothing"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Store     StoreConfig     `mapstructure:"store"`
	Sidecar   SidecarConfig   `mapstructure:"sidecar"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	ONNX      ONNXConfig      `mapstructure:"onnx"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxBodySize 请求体上限（字节）
	MaxBodySize  int64    `mapstructure:"max_body_size"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ImageConfig 图像归一化与裁剪参数，decoder 可选 opencv / imaging
type ImageConfig struct {
	Decoder     string `mapstructure:"decoder"`
	MaxSide     int    `mapstructure:"max_side"`
	MinSide     int    `mapstructure:"min_side"`
	Padding     int    `mapstructure:"padding"`
	CropMinSide int    `mapstructure:"crop_min_side"`
	CropUpscale int    `mapstructure:"crop_upscale"`
}

// DetectorConfig 人脸定位，driver 可选 haar / pigo / none
type DetectorConfig struct {
	Driver       string  `mapstructure:"driver"`
	HaarPath     string  `mapstructure:"haar_path"`
	CLAHE        bool    `mapstructure:"clahe"`
	ScaleFactor  float64 `mapstructure:"scale_factor"`
	MinNeighbors int     `mapstructure:"min_neighbors"`
	MinSize      int     `mapstructure:"min_size"`
	PigoPath     string  `mapstructure:"pigo_path"`
	PigoQuality  float32 `mapstructure:"pigo_quality"`
}

// LowLightConfig policy 可选 skip / reject / warn
type LowLightConfig struct {
	Policy    string  `mapstructure:"policy"`
	Threshold float64 `mapstructure:"threshold"`
}

type CascadeConfig struct {
	cascade.Policy `mapstructure:",squash"`
	// Stages 第一项为快速级，其余按顺序回退
	Stages []StageConfig `mapstructure:"stages"`
}

// StageConfig 单级分类器，driver 可选 sidecar / remote / onnx / gemini
type StageConfig struct {
	Name   string `mapstructure:"name"`
	Driver string `mapstructure:"driver"`
	Model  string `mapstructure:"model"`
}

// SmoothingConfig driver 可选 memory / redis
type SmoothingConfig struct {
	smoother.Config `mapstructure:",squash"`
	Driver          string `mapstructure:"driver"`
}

type AnalyzerConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	QueueTimeout  int `mapstructure:"queue_timeout"`
	BatchLimit    int `mapstructure:"batch_limit"`
	BatchWorkers  int `mapstructure:"batch_workers"`
}

// StoreConfig 事件日志，DSN 为空时不记录
type StoreConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type SidecarConfig struct {
	Socket  string        `mapstructure:"socket"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ONNXConfig struct {
	LibraryPath string   `mapstructure:"library_path"`
	ModelPath   string   `mapstructure:"model_path"`
	InputName   string   `mapstructure:"input_name"`
	OutputName  string   `mapstructure:"output_name"`
	Labels      []string `mapstructure:"labels"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MOODLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，返回默认配置
		return getDefaultConfig()
	}
	return cfg
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if len(c.Cascade.Stages) == 0 {
		return fmt.Errorf("config: cascade.stages must not be empty")
	}
	for i, st := range c.Cascade.Stages {
		switch st.Driver {
		case "sidecar", "remote", "onnx", "gemini":
		default:
			return fmt.Errorf("config: cascade.stages[%d] unknown driver %q", i, st.Driver)
		}
	}
	switch c.Image.Decoder {
	case "opencv", "imaging":
	default:
		return fmt.Errorf("config: unknown image decoder %q", c.Image.Decoder)
	}
	switch c.Detector.Driver {
	case "haar", "pigo", "none":
	default:
		return fmt.Errorf("config: unknown detector driver %q", c.Detector.Driver)
	}
	switch c.LowLight.Policy {
	case "skip", "reject", "warn":
	default:
		return fmt.Errorf("config: unknown lowlight policy %q", c.LowLight.Policy)
	}
	switch c.Smoothing.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown smoothing driver %q", c.Smoothing.Driver)
	}
	if c.Analyzer.MaxConcurrent <= 0 {
		return fmt.Errorf("config: analyzer.max_concurrent must be positive")
	}
	return c.Cascade.Policy.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_body_size", 10*1024*1024)
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 10*time.Second)

	v.SetDefault("image.decoder", "opencv")
	v.SetDefault("image.max_side", 480)
	v.SetDefault("image.min_side", 224)
	v.SetDefault("image.padding", 20)
	v.SetDefault("image.crop_min_side", 48)
	v.SetDefault("image.crop_upscale", 224)

	v.SetDefault("detector.driver", "haar")
	v.SetDefault("detector.haar_path", "haarcascade_frontalface_default.xml")
	v.SetDefault("detector.clahe", true)
	v.SetDefault("detector.scale_factor", 1.05)
	v.SetDefault("detector.min_neighbors", 3)
	v.SetDefault("detector.min_size", 50)
	v.SetDefault("detector.pigo_path", "facefinder")
	v.SetDefault("detector.pigo_quality", 5.0)

	v.SetDefault("lowlight.policy", "skip")
	v.SetDefault("lowlight.threshold", 30.0)

	policy := cascade.DefaultPolicy()
	v.SetDefault("cascade.fast_threshold", policy.FastThreshold)
	v.SetDefault("cascade.fast_floor", policy.FastFloor)
	v.SetDefault("cascade.fallback_threshold", policy.FallbackThreshold)
	v.SetDefault("cascade.fallback_floor", policy.FallbackFloor)
	v.SetDefault("cascade.default_label", string(policy.DefaultLabel))
	v.SetDefault("cascade.default_confidence", policy.DefaultConfidence)
	v.SetDefault("cascade.stage_timeout", policy.StageTimeout)
	v.SetDefault("cascade.min_face_size", policy.MinFaceSize)
	v.SetDefault("cascade.stages", defaultStagesMap())

	smoothing := smoother.DefaultConfig()
	v.SetDefault("smoothing.driver", "memory")
	v.SetDefault("smoothing.size", smoothing.Size)
	v.SetDefault("smoothing.idle_ttl", smoothing.IdleTTL)
	v.SetDefault("smoothing.janitor_interval", smoothing.JanitorInterval)

	v.SetDefault("analyzer.max_concurrent", 4)
	v.SetDefault("analyzer.queue_timeout", 30)
	v.SetDefault("analyzer.batch_limit", 16)
	v.SetDefault("analyzer.batch_workers", 4)

	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("sidecar.socket", "/tmp/moodlens.sock")
	v.SetDefault("sidecar.timeout", 5*time.Second)

	v.SetDefault("remote.url", "http://localhost:5000/classify")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout", 5*time.Second)

	v.SetDefault("onnx.library_path", "")
	v.SetDefault("onnx.model_path", "emotion_model.onnx")
	v.SetDefault("onnx.input_name", "input")
	v.SetDefault("onnx.output_name", "output")
	v.SetDefault("onnx.labels", emotionLabels())

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-1.5-flash")
}

func defaultStages() []StageConfig {
	return []StageConfig{
		{Name: "openface", Driver: "sidecar", Model: "OpenFace"},
		{Name: "fer2013", Driver: "sidecar", Model: "FER2013"},
		{Name: "vgg-face", Driver: "sidecar", Model: "VGG-Face"},
		{Name: "default", Driver: "sidecar", Model: ""},
	}
}

func defaultStagesMap() []map[string]any {
	stages := defaultStages()
	out := make([]map[string]any, len(stages))
	for i, st := range stages {
		out[i] = map[string]any{"name": st.Name, "driver": st.Driver, "model": st.Model}
	}
	return out
}

func emotionLabels() []string {
	out := make([]string, len(emotion.Classes))
	for i, l := range emotion.Classes {
		out[i] = string(l)
	}
	return out
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			MaxBodySize:  10 * 1024 * 1024,
			AllowOrigins: []string{"*"},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      10 * time.Second,
		},
		Image: ImageConfig{
			Decoder:     "opencv",
			MaxSide:     480,
			MinSide:     224,
			Padding:     20,
			CropMinSide: 48,
			CropUpscale: 224,
		},
		Detector: DetectorConfig{
			Driver:       "haar",
			HaarPath:     "haarcascade_frontalface_default.xml",
			CLAHE:        true,
			ScaleFactor:  1.05,
			MinNeighbors: 3,
			MinSize:      50,
			PigoPath:     "facefinder",
			PigoQuality:  5,
		},
		LowLight: LowLightConfig{
			Policy:    "skip",
			Threshold: 30,
		},
		Cascade: CascadeConfig{
			Policy: cascade.DefaultPolicy(),
			Stages: defaultStages(),
		},
		Smoothing: SmoothingConfig{
			Config: smoother.DefaultConfig(),
			Driver: "memory",
		},
		Analyzer: AnalyzerConfig{
			MaxConcurrent: 4,
			QueueTimeout:  30,
			BatchLimit:    16,
			BatchWorkers:  4,
		},
		Store: StoreConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Sidecar: SidecarConfig{
			Socket:  "/tmp/moodlens.sock",
			Timeout: 5 * time.Second,
		},
		Remote: RemoteConfig{
			URL:     "http://localhost:5000/classify",
			Timeout: 5 * time.Second,
		},
		ONNX: ONNXConfig{
			ModelPath:  "emotion_model.onnx",
			InputName:  "input",
			OutputName: "output",
			Labels:     emotionLabels(),
		},
		Gemini: GeminiConfig{
			Model: "gemini-1.5-flash",
		},
	}
}
