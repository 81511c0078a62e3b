package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/chaz8081/ticketprint/internal/ble"
	"github.com/chaz8081/ticketprint/internal/config"
	"github.com/chaz8081/ticketprint/internal/logger"
	"github.com/chaz8081/ticketprint/internal/printer"
	"github.com/chaz8081/ticketprint/internal/server"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/ticketprint/config.yaml)")
	envPath := flag.String("env", ".env", "path to a .env file with overrides")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	printBanner(cfg)

	var adapter ble.Adapter
	if kind, _ := printer.ParseKind(cfg.Printer.Type); kind == printer.KindBLE {
		adapter = newBLEAdapter(zlog)
		if cfg.BLE.Address == "" {
			zlog.Warn("BLE_PRINTER_ADDR is not set; tickets will fail until it is configured")
		}
	}

	p, err := printer.New(cfg, adapter, zlog)
	if err != nil {
		zlog.Fatal("failed to set up printer", zap.Error(err))
	}

	srv := server.New(cfg.Server, p, zlog.Named("http"), server.WithMaxImagePixels(cfg.Image.MaxPixels))

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Info("ready", zap.String("addr", cfg.Server.Addr()), zap.Stringer("printer", p.Kind()))
	if err := srv.Run(ctx); err != nil {
		zlog.Error("server stopped", zap.Error(err))
		return
	}
	zlog.Info("goodbye")
}

// newBLEAdapter builds the tinygo adapter, using BlueZ over D-Bus for
// characteristic flags when the system bus is reachable.
func newBLEAdapter(zlog *zap.Logger) ble.Adapter {
	bluez, err := ble.NewBlueZInspector()
	if err != nil {
		zlog.Warn("BlueZ D-Bus unavailable; characteristic flags will be guessed", zap.Error(err))
		return ble.NewTinyGoAdapter(nil, zlog.Named("ble"))
	}
	return ble.NewTinyGoAdapter(bluez, zlog.Named("ble"))
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== ticketprint ===")
	fmt.Printf("  Listen:   %s\n", cfg.Server.Addr())
	fmt.Printf("  Printer:  %s\n", printerSummary(cfg))
	fmt.Printf("  Image:    max %dpx wide, dither %t\n", cfg.Image.MaxWidth, cfg.Image.Dither)
	fmt.Printf("  CORS:     %s\n", strings.Join(cfg.Server.AllowedOrigins, ", "))
	fmt.Printf("  Log:      %s (%s)\n", cfg.LogLevel, cfg.LogFormat)
	fmt.Println("===================")
}

func printerSummary(cfg *config.Config) string {
	p := cfg.Printer
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "usb":
		if p.USBDevice != "" {
			return "usb " + p.USBDevice
		}
		return fmt.Sprintf("usb %s:%s", p.USBVendor, p.USBProduct)
	case "serial":
		return fmt.Sprintf("serial %s @%d", p.SerialPort, p.SerialBaudRate)
	case "bluetooth":
		return fmt.Sprintf("bluetooth %s @%d", p.RFCOMMDevice, p.RFCOMMBaudRate)
	case "network":
		return fmt.Sprintf("network %s:%d", p.NetworkHost, p.NetworkPort)
	case "ble":
		addr := cfg.BLE.Address
		if addr == "" {
			addr = "(no address)"
		}
		return "ble " + addr
	}
	return p.Type
}
