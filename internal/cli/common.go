// Package cli carries the helpers shared by the heapscope command-line
// tools: version reporting, logging, and config loading.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/heapscope/heapscope/internal/trace"
)

// Version of the heapscope tools.
const Version = "0.3.0"

// VersionInfo describes a tool build and the range of trace formats it
// accepts.
type VersionInfo struct {
	Tool         string `json:"tool"`
	Version      string `json:"version"`
	TraceFormats string `json:"trace_formats"`
	GoVersion    string `json:"go_version"`
	Platform     string `json:"platform"`
}

// NewVersionInfo returns the version record for the named tool.
func NewVersionInfo(tool string) *VersionInfo {
	return &VersionInfo{
		Tool:         tool,
		Version:      Version,
		TraceFormats: trace.FormatConstraint,
		GoVersion:    runtime.Version(),
		Platform:     runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// PrintVersion prints version information in a consistent format
func PrintVersion(toolName string, jsonOutput bool) {
	info := NewVersionInfo(toolName)

	if jsonOutput {
		data, err := json.MarshalIndent(info, "", "  ")
		if err == nil {
			fmt.Println(string(data))
			return
		}
		fmt.Fprintf(os.Stderr, "Error: Failed to marshal version info to JSON: %v\n", err)
	}

	fmt.Printf("%s v%s\n", info.Tool, info.Version)
	fmt.Printf("Accepted trace formats: %s\n", info.TraceFormats)
	fmt.Printf("Go: %s (%s)\n", info.GoVersion, info.Platform)
}

// ExitWithError prints an error message and exits with code 1
func ExitWithError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "heapscope: "+format+"\n", args...)
	os.Exit(1)
}

// Logger provides leveled logging for CLI tools
type Logger struct {
	Verbose   bool
	DebugMode bool
}

// NewLogger creates a new logger instance
func NewLogger(verbose, debug bool) *Logger {
	return &Logger{
		Verbose:   verbose,
		DebugMode: debug,
	}
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.Verbose {
		fmt.Printf("[INFO] %s: %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.DebugMode {
		fmt.Printf("[DEBUG] %s: %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	fmt.Printf("[WARN] %s: %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	fmt.Printf("[ERROR] %s: %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

// Config holds the file-backed settings of the heapscope tools. Every field
// mirrors a cmd/heapscope flag; unknown keys are rejected so a typo in a
// config file fails loudly instead of silently analyzing into the wrong
// place.
type Config struct {
	Verbose   bool   `json:"verbose"`
	Debug     bool   `json:"debug"`
	OutputDir string `json:"output_dir"`
	SourceMap string `json:"source_map"`
}

// LoadConfig reads and validates a config file. An empty path yields the
// defaults; a named file must exist and parse.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{
		OutputDir: ".",
	}

	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, config.validate()
}

func (c *Config) validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("config: output_dir must not be empty")
	}
	if c.SourceMap != "" {
		if _, err := os.Stat(c.SourceMap); err != nil {
			return fmt.Errorf("config: source map: %w", err)
		}
	}
	return nil
}
