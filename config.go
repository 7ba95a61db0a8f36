package gocnc

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

const (
	DefaultBaudrate     = 115200
	DefaultRXBufferSize = 128
	DefaultPollInterval = 200 * time.Millisecond
	DefaultBanner       = "Grbl "
)

type Config struct {
	// Transport selects a registered transport, "serial" or "sim".
	Transport    string
	Port         string
	Baudrate     int
	OpenAttempts uint
	ReadTimeout  time.Duration

	// RXBufferSize is the size of the controller serial receive buffer.
	RXBufferSize int
	// PollInterval for ? status requests, zero disables polling.
	PollInterval time.Duration
	// Banner is the prefix of the line printed by the controller after reset.
	Banner string
	// SkipReset disables the soft reset written after opening the transport.
	SkipReset    bool
	AbortOnAlarm bool
	Incremental  bool
	// SegmentLength splits G1/G2/G3 moves, zero disables it.
	SegmentLength float64

	// Debug logs the controller traffic at debug level. The level of Logger
	// is left to the caller.
	Debug  bool
	Logger *logrus.Logger

	// OnEvent is called synchronously from the client goroutine for every
	// event and must not block or call back into the client.
	OnEvent func(Event)
	// OnBoot is called in its own goroutine each time the controller boots.
	OnBoot func(*Client)
}

func DefaultConfig() *Config {
	return &Config{
		Transport:    "serial",
		Baudrate:     DefaultBaudrate,
		OpenAttempts: 3,
		ReadTimeout:  10 * time.Millisecond,
		RXBufferSize: DefaultRXBufferSize,
		PollInterval: DefaultPollInterval,
		Banner:       DefaultBanner,
	}
}

type fileConfig struct {
	Machine struct {
		Transport string `ini:"transport"`
		Port      string `ini:"port"`
		Baudrate  int    `ini:"baudrate"`
		Banner    string `ini:"banner"`
	} `ini:"machine"`
	Stream struct {
		RXBufferSize int           `ini:"rx_buffer"`
		PollInterval time.Duration `ini:"poll_interval"`
		AbortOnAlarm bool          `ini:"abort_on_alarm"`
		Incremental  bool          `ini:"incremental"`
	} `ini:"stream"`
	Preprocess struct {
		SegmentLength float64 `ini:"segment_length"`
	} `ini:"preprocess"`
}

// LoadConfig reads an ini file on top of DefaultConfig:
//
//	[machine]
//	port = /dev/ttyUSB0
//	baudrate = 115200
//
//	[stream]
//	rx_buffer = 128
//	poll_interval = 200ms
//	abort_on_alarm = true
//
//	[preprocess]
//	segment_length = 0.5
func LoadConfig(source interface{}) (*Config, error) {
	cfg := DefaultConfig()
	var fc fileConfig
	fc.Machine.Transport = cfg.Transport
	fc.Machine.Baudrate = cfg.Baudrate
	fc.Machine.Banner = cfg.Banner
	fc.Stream.RXBufferSize = cfg.RXBufferSize
	fc.Stream.PollInterval = cfg.PollInterval
	if err := ini.MapTo(&fc, source); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Transport = fc.Machine.Transport
	cfg.Port = fc.Machine.Port
	cfg.Baudrate = fc.Machine.Baudrate
	cfg.Banner = fc.Machine.Banner
	cfg.RXBufferSize = fc.Stream.RXBufferSize
	cfg.PollInterval = fc.Stream.PollInterval
	cfg.AbortOnAlarm = fc.Stream.AbortOnAlarm
	cfg.Incremental = fc.Stream.Incremental
	cfg.SegmentLength = fc.Preprocess.SegmentLength
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.RXBufferSize <= 0 {
		return fmt.Errorf("invalid rx buffer size %d", cfg.RXBufferSize)
	}
	if cfg.Banner == "" {
		return fmt.Errorf("empty boot banner")
	}
	if cfg.SegmentLength < 0 {
		return fmt.Errorf("invalid segment length %g", cfg.SegmentLength)
	}
	return nil
}

func (cfg *Config) logger() *logrus.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return logrus.StandardLogger()
}
