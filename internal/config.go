package internal

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 服務配置
//
// 來源優先順序：命令列參數 > YAML 檔案 > Defaults()。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Game      GameConfig      `yaml:"game"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig HTTP 服務器配置
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WebSocketConfig 連接參數
type WebSocketConfig struct {
	// AllowedOrigins 為空時接受任何來源
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	WriteWait       time.Duration `yaml:"write_wait"`
	PongWait        time.Duration `yaml:"pong_wait"`
	PingPeriod      time.Duration `yaml:"ping_period"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	SendBuffer      int           `yaml:"send_buffer"`
}

// GameConfig 遊戲規則參數
type GameConfig struct {
	// GracePeriod 斷線後保留玩家位置的時間
	GracePeriod time.Duration `yaml:"grace_period"`
	// RoomExpiry 房間清空後保留的時間
	RoomExpiry     time.Duration `yaml:"room_expiry"`
	RoomCodeLength int           `yaml:"room_code_length"`
	RulesCards     bool          `yaml:"rules_cards"`
	// Strict 為 true 時指令處理中的 panic 不會被吞掉
	Strict         bool `yaml:"strict"`
	MaxNameRetries int  `yaml:"max_name_retries"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults 預設配置
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxMessageSize:  4096,
			SendBuffer:      256,
		},
		Game: GameConfig{
			GracePeriod:    10 * time.Second,
			RoomExpiry:     10 * time.Minute,
			RoomCodeLength: 5,
			RulesCards:     true,
			MaxNameRetries: 16,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load 讀取 YAML 配置，未寫到的欄位保留預設值
//
// path 為空時直接回傳 Defaults()。
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("讀取配置檔失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("解析配置檔失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 檢查配置
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port 無效: %d", c.Server.Port))
	}
	for name, d := range map[string]time.Duration{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.idle_timeout":     c.Server.IdleTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"websocket.write_wait":    c.WebSocket.WriteWait,
		"websocket.pong_wait":     c.WebSocket.PongWait,
		"websocket.ping_period":   c.WebSocket.PingPeriod,
		"game.grace_period":       c.Game.GracePeriod,
		"game.room_expiry":        c.Game.RoomExpiry,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s 必須大於 0", name))
		}
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		errs = append(errs, errors.New("websocket.ping_period 必須小於 pong_wait"))
	}
	if c.WebSocket.ReadBufferSize <= 0 || c.WebSocket.WriteBufferSize <= 0 ||
		c.WebSocket.SendBuffer <= 0 || c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("websocket 緩衝區大小必須大於 0"))
	}
	if c.Game.RoomCodeLength <= 0 {
		errs = append(errs, errors.New("game.room_code_length 必須大於 0"))
	}
	if c.Game.MaxNameRetries <= 0 {
		errs = append(errs, errors.New("game.max_name_retries 必須大於 0"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format 不支援: %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
