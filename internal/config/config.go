package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig  `yaml:"server"`
	Printer   PrinterConfig `yaml:"printer"`
	BLE       BLEConfig     `yaml:"ble"`
	Image     ImageConfig   `yaml:"image"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // "console" or "json"
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Debug          bool     `yaml:"debug"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimit      float64  `yaml:"rate_limit"` // ticket submissions per second; 0 disables
	RateBurst      int      `yaml:"rate_burst"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PrinterConfig selects the printer transport and its device settings.
type PrinterConfig struct {
	Type           string `yaml:"type"` // usb, serial, network, bluetooth or ble
	USBVendor      string `yaml:"usb_vendor"`
	USBProduct     string `yaml:"usb_product"`
	USBDevice      string `yaml:"usb_device"` // explicit lp device; overrides vendor/product lookup
	SerialPort     string `yaml:"serial_port"`
	SerialBaudRate int    `yaml:"serial_baudrate"`
	RFCOMMDevice   string `yaml:"rfcomm_device"`
	RFCOMMBaudRate int    `yaml:"rfcomm_baudrate"`
	NetworkHost    string `yaml:"network_host"`
	NetworkPort    int    `yaml:"network_port"`
}

// BLEConfig holds BLE printer settings. Durations are in seconds.
type BLEConfig struct {
	Address           string  `yaml:"address"`
	WriteCharUUID     string  `yaml:"write_char_uuid"` // empty selects automatically
	ChunkSize         int     `yaml:"chunk_size"`
	WriteGapSec       float64 `yaml:"write_gap_sec"`
	ImageChunkSize    int     `yaml:"image_chunk_size"`
	ImageWriteGapSec  float64 `yaml:"image_write_gap_sec"`
	WriteResponse     bool    `yaml:"write_response"`
	ScanTimeoutSec    float64 `yaml:"scan_timeout_sec"`
	ProbeTimeoutSec   float64 `yaml:"probe_timeout_sec"`
	ConnectTimeoutSec float64 `yaml:"connect_timeout_sec"`
	Retries           int     `yaml:"retries"`
	RetryDelaySec     float64 `yaml:"retry_delay_sec"`
}

// ImageConfig controls raster conversion of uploaded images.
type ImageConfig struct {
	MaxWidth  int     `yaml:"max_width"`
	MaxHeight int     `yaml:"max_height"` // 0 means unbounded
	MaxPixels int     `yaml:"max_pixels"` // decoded size limit for uploads; 0 means unbounded
	Dither    bool    `yaml:"dither"`
	Contrast  float64 `yaml:"contrast"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ticketprint")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5000,
			AllowedOrigins: []string{"*"},
			RateLimit:      2,
			RateBurst:      5,
			MaxBodyBytes:   10 << 20,
		},
		Printer: PrinterConfig{
			Type:           "usb",
			USBVendor:      "0x0416",
			USBProduct:     "0x5011",
			SerialPort:     "/dev/ttyUSB0",
			SerialBaudRate: 9600,
			RFCOMMDevice:   "/dev/rfcomm0",
			RFCOMMBaudRate: 9600,
			NetworkHost:    "192.168.1.100",
			NetworkPort:    9100,
		},
		BLE: BLEConfig{
			ChunkSize:         20,
			WriteGapSec:       0.03,
			ImageChunkSize:    100,
			ImageWriteGapSec:  0.01,
			ScanTimeoutSec:    8,
			ProbeTimeoutSec:   3,
			ConnectTimeoutSec: 20,
			Retries:           2,
			RetryDelaySec:     1,
		},
		Image: ImageConfig{
			MaxWidth:  384,
			MaxPixels: 8_000_000,
			Dither:    true,
			Contrast:  1,
		},
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Printer.USBDevice = expandTilde(cfg.Printer.USBDevice)
	return cfg, nil
}

const defaultHeader = `# ticketprint configuration
# Environment variables (and a .env file) override these values.
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. Returns the written path, or "" if a config already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// LookupFunc looks up an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg fields from environment variables.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("HOST", &cfg.Server.Host)
	e.int("PORT", &cfg.Server.Port)
	e.bool("DEBUG", &cfg.Server.Debug)
	e.list("CORS_ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)
	e.float("RATE_LIMIT_PER_SEC", &cfg.Server.RateLimit)
	e.int("RATE_LIMIT_BURST", &cfg.Server.RateBurst)
	e.int64("MAX_BODY_BYTES", &cfg.Server.MaxBodyBytes)

	e.str("PRINTER_TYPE", &cfg.Printer.Type)
	e.str("USB_VENDOR", &cfg.Printer.USBVendor)
	e.str("USB_PRODUCT", &cfg.Printer.USBProduct)
	e.str("USB_DEVICE", &cfg.Printer.USBDevice)
	e.str("SERIAL_PORT", &cfg.Printer.SerialPort)
	e.int("SERIAL_BAUDRATE", &cfg.Printer.SerialBaudRate)
	e.str("RFCOMM_DEVICE", &cfg.Printer.RFCOMMDevice)
	e.int("RFCOMM_BAUDRATE", &cfg.Printer.RFCOMMBaudRate)
	e.str("NETWORK_HOST", &cfg.Printer.NetworkHost)
	e.int("NETWORK_PORT", &cfg.Printer.NetworkPort)

	e.str("BLE_PRINTER_ADDR", &cfg.BLE.Address)
	e.str("BLE_WRITE_CHAR_UUID", &cfg.BLE.WriteCharUUID)
	e.str("BLE_WRITE_UUID", &cfg.BLE.WriteCharUUID)
	e.int("BLE_CHUNK_SIZE", &cfg.BLE.ChunkSize)
	e.float("BLE_WRITE_GAP_SEC", &cfg.BLE.WriteGapSec)
	e.int("BLE_IMAGE_CHUNK_SIZE", &cfg.BLE.ImageChunkSize)
	e.float("BLE_IMAGE_WRITE_GAP_SEC", &cfg.BLE.ImageWriteGapSec)
	e.bool("BLE_WRITE_RESPONSE", &cfg.BLE.WriteResponse)
	e.float("BLE_SCAN_TIMEOUT_SEC", &cfg.BLE.ScanTimeoutSec)
	e.float("BLE_PROBE_TIMEOUT_SEC", &cfg.BLE.ProbeTimeoutSec)
	e.float("BLE_CONNECT_TIMEOUT_SEC", &cfg.BLE.ConnectTimeoutSec)
	e.int("BLE_RETRIES", &cfg.BLE.Retries)
	e.float("BLE_RETRY_DELAY_SEC", &cfg.BLE.RetryDelaySec)

	e.int("IMAGE_MAX_WIDTH", &cfg.Image.MaxWidth)
	e.int("IMAGE_MAX_HEIGHT", &cfg.Image.MaxHeight)
	e.int("IMAGE_MAX_PIXELS", &cfg.Image.MaxPixels)
	e.bool("IMAGE_DITHER", &cfg.Image.Dither)
	e.float("IMAGE_CONTRAST", &cfg.Image.Contrast)

	e.str("LOG_LEVEL", &cfg.LogLevel)
	e.str("LOG_FORMAT", &cfg.LogFormat)

	return e.err
}

// envReader applies variables and keeps the first parse error.
type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s=%q: %w", key, v, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		default:
			e.fail(key, v, fmt.Errorf("not a boolean"))
		}
	}
}

// ParseUSBID parses a USB vendor or product ID such as "0x0416".
func ParseUSBID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		return fmt.Errorf("server.rate_burst must be > 0 when rate_limit is set")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Printer.Type)) {
	case "usb":
		if c.Printer.USBDevice == "" {
			if _, err := ParseUSBID(c.Printer.USBVendor); err != nil {
				return fmt.Errorf("printer.usb_vendor must be a hex ID, got %q", c.Printer.USBVendor)
			}
			if _, err := ParseUSBID(c.Printer.USBProduct); err != nil {
				return fmt.Errorf("printer.usb_product must be a hex ID, got %q", c.Printer.USBProduct)
			}
		}
	case "serial":
		if c.Printer.SerialPort == "" {
			return fmt.Errorf("printer.serial_port must not be empty")
		}
		if c.Printer.SerialBaudRate <= 0 {
			return fmt.Errorf("printer.serial_baudrate must be > 0")
		}
	case "bluetooth":
		if c.Printer.RFCOMMDevice == "" {
			return fmt.Errorf("printer.rfcomm_device must not be empty")
		}
		if c.Printer.RFCOMMBaudRate <= 0 {
			return fmt.Errorf("printer.rfcomm_baudrate must be > 0")
		}
	case "network":
		if c.Printer.NetworkHost == "" {
			return fmt.Errorf("printer.network_host must not be empty")
		}
		if c.Printer.NetworkPort <= 0 || c.Printer.NetworkPort > 65535 {
			return fmt.Errorf("printer.network_port must be 1-65535, got %d", c.Printer.NetworkPort)
		}
	case "ble":
		if err := c.BLE.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("printer.type must be usb, serial, network, bluetooth, or ble, got %q", c.Printer.Type)
	}

	if c.Image.MaxWidth <= 0 {
		return fmt.Errorf("image.max_width must be > 0")
	}
	if c.Image.MaxHeight < 0 {
		return fmt.Errorf("image.max_height must be >= 0")
	}
	if c.Image.MaxPixels < 0 {
		return fmt.Errorf("image.max_pixels must be >= 0")
	}
	if c.Image.Contrast <= 0 {
		return fmt.Errorf("image.contrast must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be \"console\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// validate checks BLE settings. A missing address is allowed; printing
// then fails per request.
func (b BLEConfig) validate() error {
	if b.ChunkSize <= 0 {
		return fmt.Errorf("ble.chunk_size must be > 0")
	}
	if b.ImageChunkSize <= 0 {
		return fmt.Errorf("ble.image_chunk_size must be > 0")
	}
	if b.WriteGapSec < 0 || b.ImageWriteGapSec < 0 {
		return fmt.Errorf("ble write gaps must be >= 0")
	}
	if b.ScanTimeoutSec <= 0 || b.ProbeTimeoutSec <= 0 || b.ConnectTimeoutSec <= 0 {
		return fmt.Errorf("ble timeouts must be > 0")
	}
	if b.Retries < 0 {
		return fmt.Errorf("ble.retries must be >= 0")
	}
	if b.RetryDelaySec < 0 {
		return fmt.Errorf("ble.retry_delay_sec must be >= 0")
	}
	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
