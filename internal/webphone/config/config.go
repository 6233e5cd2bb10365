package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"time"
)

// Config holds the webphone configuration
type Config struct {
	// Backend settings
	BackendURL  string // Base URL of the backend serving account configuration
	HTTPTimeout time.Duration

	// SIP settings
	Port          int
	BindAddr      string // Address to bind for listening
	AdvertiseAddr string // Address to advertise in SIP headers
	LogLevel      string

	// RTP settings
	RTPPortMin int
	RTPPortMax int

	// Call settings
	DialTimeout time.Duration

	// Metrics settings
	MetricsAddr string // Prometheus listen address, empty disables the endpoint
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{
		HTTPTimeout: 10 * time.Second,
		DialTimeout: 30 * time.Second,
	}

	// Define flags
	flag.StringVar(&cfg.BackendURL, "backend", "http://localhost:8069", "Backend base URL for account configuration")
	flag.IntVar(&cfg.Port, "port", 5060, "SIP listening port")
	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "SIP bind address")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", "", "Address to advertise in SIP headers (auto-detected if not set)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.IntVar(&cfg.RTPPortMin, "rtp-port-min", 10000, "Lower bound of the RTP port range")
	flag.IntVar(&cfg.RTPPortMax, "rtp-port-max", 20000, "Upper bound of the RTP port range")
	flag.StringVar(&cfg.MetricsAddr, "metrics", "", "Prometheus metrics listen address (empty disables)")

	flag.Parse()

	// Override with environment variables if set
	if backend := os.Getenv("BACKEND_URL"); backend != "" {
		cfg.BackendURL = backend
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if bind := os.Getenv("BIND"); bind != "" {
		cfg.BindAddr = bind
	}
	if advertise := os.Getenv("ADVERTISE"); advertise != "" {
		cfg.AdvertiseAddr = advertise
	}
	// Validate and fallback to auto-detection if invalid
	if cfg.AdvertiseAddr == "" || !isValidAddress(cfg.AdvertiseAddr) {
		cfg.AdvertiseAddr = getPrimaryInterfaceIP()
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if metrics := os.Getenv("METRICS_ADDR"); metrics != "" {
		cfg.MetricsAddr = metrics
	}
	if min := os.Getenv("RTP_PORT_MIN"); min != "" {
		if p, err := strconv.Atoi(min); err == nil {
			cfg.RTPPortMin = p
		}
	}
	if max := os.Getenv("RTP_PORT_MAX"); max != "" {
		if p, err := strconv.Atoi(max); err == nil {
			cfg.RTPPortMax = p
		}
	}
	if cfg.RTPPortMax <= cfg.RTPPortMin {
		cfg.RTPPortMin = 10000
		cfg.RTPPortMax = 20000
	}

	return cfg
}

// isValidAddress checks if the address is a valid IP or resolvable hostname
func isValidAddress(addr string) bool {
	// Check if it's a valid IP address
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	// Try to resolve as hostname
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

// getPrimaryInterfaceIP detects the primary network interface IP address
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
