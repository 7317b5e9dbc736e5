package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	AI        AIConfig
	Assistant AssistantConfig
	Pets      PetsConfig
}

// fileConfig 是 CONFIG_FILE 指向的 YAML 文件结构，环境变量优先于文件中的值。
type fileConfig struct {
	Port      string `yaml:"port"`
	DataDir   string `yaml:"dataDir"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	AI        struct {
		Model   string `yaml:"model"`
		BaseURL string `yaml:"baseUrl"`
		Region  string `yaml:"region"`
	} `yaml:"ai"`
	Assistant struct {
		BaseURL          string `yaml:"baseUrl"`
		TimeoutSeconds   int    `yaml:"timeoutSeconds"`
		WordDelayMS      int    `yaml:"wordDelayMs"`
		MaxConversations int    `yaml:"maxConversations"`
	} `yaml:"assistant"`
	Pets struct {
		UndoWindowSeconds int `yaml:"undoWindowSeconds"`
	} `yaml:"pets"`
}

// Load 从环境变量（以及可选的 YAML 文件）加载配置。
func Load() (*Config, error) {
	file, err := loadFile(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig(file)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(file)
	if err != nil {
		return nil, err
	}

	assistant, err := loadAssistantConfig(file, server)
	if err != nil {
		return nil, err
	}

	pets, err := loadPetsConfig(file)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Log:       loadLogConfig(file),
		Storage:   loadStorageConfig(file),
		AI:        ai,
		Assistant: assistant,
		Pets:      pets,
	}, nil
}

func loadFile(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(file *fileConfig) (ServerConfig, error) {
	port := getEnvOrDefault("PORT", file.Port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// LogConfig 控制 zap 日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig(file *fileConfig) LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", orDefault(file.LogLevel, "info"))),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", orDefault(file.LogFormat, "json"))),
	}
}

// StorageConfig 描述本地数据文件的位置。
type StorageConfig struct {
	DataDir string
}

// DocumentPath 返回宠物与事件文档库（SQLite）的路径。
func (c StorageConfig) DocumentPath() string {
	return filepath.Join(c.DataDir, "pawtrack.db")
}

// LocalStorePath 返回会话本地存储（bbolt）的路径。
func (c StorageConfig) LocalStorePath() string {
	return filepath.Join(c.DataDir, "local.bolt")
}

func loadStorageConfig(file *fileConfig) StorageConfig {
	return StorageConfig{DataDir: getEnvOrDefault("DATA_DIR", orDefault(file.DataDir, "data"))}
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig(file *fileConfig) (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          getEnvOrDefault("Model", file.AI.Model),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", orDefault(file.AI.BaseURL, "https://ark.cn-beijing.volces.com/api/v3")),
		Region:         getEnvOrDefault("ARK_REGION", orDefault(file.AI.Region, "cn-beijing")),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// AssistantConfig 描述 AI 助手客户端与会话存储的配置。
type AssistantConfig struct {
	// BaseURL 指向提供 /ai 与 /ai/stream 的后端，默认是本服务自身的 /api。
	BaseURL          string
	Timeout          time.Duration
	WordDelay        time.Duration
	MaxConversations int
}

func loadAssistantConfig(file *fileConfig, server ServerConfig) (AssistantConfig, error) {
	timeout, err := parseOptionalIntEnv("AI_TIMEOUT_SECONDS")
	if err != nil {
		return AssistantConfig{}, err
	}
	timeoutSeconds := 60
	if file.Assistant.TimeoutSeconds > 0 {
		timeoutSeconds = file.Assistant.TimeoutSeconds
	}
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	delay, err := parseOptionalIntEnv("AI_WORD_DELAY_MS")
	if err != nil {
		return AssistantConfig{}, err
	}
	delayMS := 50
	if file.Assistant.WordDelayMS > 0 {
		delayMS = file.Assistant.WordDelayMS
	}
	if delay != nil {
		delayMS = *delay
	}

	maxConversations, err := parseOptionalIntEnv("CONVERSATION_MAX")
	if err != nil {
		return AssistantConfig{}, err
	}
	maxCount := 50
	if file.Assistant.MaxConversations > 0 {
		maxCount = file.Assistant.MaxConversations
	}
	if maxConversations != nil {
		maxCount = *maxConversations
	}
	if maxCount <= 10 {
		return AssistantConfig{}, fmt.Errorf("invalid CONVERSATION_MAX value %d: must be greater than 10", maxCount)
	}

	return AssistantConfig{
		BaseURL:          strings.TrimSuffix(getEnvOrDefault("AI_BASE_URL", orDefault(file.Assistant.BaseURL, selfBaseURL(server))), "/"),
		Timeout:          time.Duration(timeoutSeconds) * time.Second,
		WordDelay:        time.Duration(delayMS) * time.Millisecond,
		MaxConversations: maxCount,
	}, nil
}

func selfBaseURL(server ServerConfig) string {
	addr := server.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/api"
}

// PetsConfig 描述宠物删除的撤销窗口。
type PetsConfig struct {
	UndoWindow time.Duration
}

func loadPetsConfig(file *fileConfig) (PetsConfig, error) {
	window, err := parseOptionalIntEnv("PET_UNDO_WINDOW_SECONDS")
	if err != nil {
		return PetsConfig{}, err
	}
	seconds := 10
	if file.Pets.UndoWindowSeconds > 0 {
		seconds = file.Pets.UndoWindowSeconds
	}
	if window != nil {
		seconds = *window
	}
	if seconds < 0 {
		return PetsConfig{}, fmt.Errorf("invalid PET_UNDO_WINDOW_SECONDS value %d", seconds)
	}
	return PetsConfig{UndoWindow: time.Duration(seconds) * time.Second}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
