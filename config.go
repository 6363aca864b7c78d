package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go-kyc-orchestrator/capture"
	"go-kyc-orchestrator/challenge"
	"go-kyc-orchestrator/flow"
	redis "go-kyc-orchestrator/redis"
)

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`

	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`

	ApiBaseUrl            string `json:"api_base_url"`
	MerchantId            string `json:"merchant_id"`
	MerchantKeyPath       string `json:"merchant_key_path,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds,omitempty"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`
	SessionTtlMinutes   int                       `json:"session_ttl_minutes,omitempty"`

	Camera    CameraConfig    `json:"camera"`
	Challenge ChallengeConfig `json:"challenge"`
	Recorder  RecorderConfig  `json:"recorder"`

	JpegQuality    int    `json:"jpeg_quality,omitempty"`
	PreviewWidth   int    `json:"preview_width,omitempty"`
	PreviewHeight  int    `json:"preview_height,omitempty"`
	SelfiePolicy   string `json:"selfie_policy,omitempty"`
	LivenessUpload string `json:"liveness_upload,omitempty"`
}

type CameraConfig struct {
	// "synthetic" or "directory"
	Driver          string `json:"driver"`
	Directory       string `json:"directory,omitempty"`
	ReadyTimeoutMs  int    `json:"ready_timeout_ms,omitempty"`
	MetadataDelayMs int    `json:"metadata_delay_ms,omitempty"`
}

type ChallengeConfig struct {
	CountdownSeconds int      `json:"countdown_seconds,omitempty"`
	HoldMs           int      `json:"hold_ms,omitempty"`
	TickMs           int      `json:"tick_ms,omitempty"`
	PauseMs          int      `json:"pause_ms,omitempty"`
	SettleMs         int      `json:"settle_ms,omitempty"`
	Steps            []string `json:"steps,omitempty"`
}

type RecorderConfig struct {
	Fps            int `json:"fps,omitempty"`
	FramesPerChunk int `json:"frames_per_chunk,omitempty"`
}

func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	var config Config
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	return config, nil
}

func millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func (c ChallengeConfig) challengeConfig() (challenge.Config, error) {
	cfg := challenge.DefaultConfig()
	if c.CountdownSeconds > 0 {
		cfg.Countdown = c.CountdownSeconds
	}
	cfg.Tick = millis(c.TickMs, cfg.Tick)
	cfg.Pause = millis(c.PauseMs, cfg.Pause)
	cfg.Settle = millis(c.SettleMs, cfg.Settle)
	hold := millis(c.HoldMs, challenge.DefaultHold)

	if len(c.Steps) == 0 {
		cfg.Steps = challenge.DefaultSteps(hold)
	} else {
		cfg.Steps = make([]challenge.Step, 0, len(c.Steps))
		for _, name := range c.Steps {
			d, err := challenge.ParseDirection(name)
			if err != nil {
				return challenge.Config{}, err
			}
			cfg.Steps = append(cfg.Steps, challenge.Step{Direction: d, Hold: hold})
		}
	}
	return cfg, cfg.Validate()
}

func (c *Config) flowConfig() (flow.Config, error) {
	ch, err := c.Challenge.challengeConfig()
	if err != nil {
		return flow.Config{}, fmt.Errorf("invalid challenge config: %w", err)
	}
	return flow.Config{
		Challenge:      ch,
		Recorder:       capture.RecorderConfig{FPS: c.Recorder.Fps, FramesPerChunk: c.Recorder.FramesPerChunk},
		JPEGQuality:    c.JpegQuality,
		SelfiePolicy:   flow.SelfiePolicy(c.SelfiePolicy),
		LivenessUpload: flow.LivenessUpload(c.LivenessUpload),
	}, nil
}
