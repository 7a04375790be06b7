package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"
)

// Format is the closed enumeration of supported artifact formats.
type Format int

const (
	// FormatDefault stands for the platform dynamic-library format and is
	// replaced during Prepare.
	FormatDefault Format = iota
	FormatPyd
	FormatSo
	FormatExe
	FormatZip
)

// UnsupportedFormatError names a format value outside the enumeration.
// This is a configuration error and is never silently defaulted.
type UnsupportedFormatError struct {
	Value string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format: %q (expected pyd, so, exe or zip)", e.Value)
}

func (f Format) String() string {
	switch f {
	case FormatPyd:
		return "pyd"
	case FormatSo:
		return "so"
	case FormatExe:
		return "exe"
	case FormatZip:
		return "zip"
	}
	return "default"
}

// Ext returns the artifact file extension for the format, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatPyd:
		return ".pyd"
	case FormatSo:
		return ".so"
	case FormatExe:
		if runtime.GOOS == "windows" {
			return ".exe"
		}
		return ""
	case FormatZip:
		return ".zip"
	}
	return ""
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "":
		return FormatDefault, nil
	case "pyd":
		return FormatPyd, nil
	case "so":
		return FormatSo, nil
	case "exe":
		return FormatExe, nil
	case "zip":
		return FormatZip, nil
	}
	return FormatDefault, &UnsupportedFormatError{Value: s}
}

// PlatformDylib returns the native dynamic-library format for this platform.
func PlatformDylib() Format {
	if runtime.GOOS == "windows" {
		return FormatPyd
	}
	return FormatSo
}

// Backends names the external tools invoked for compiled formats. Empty
// fields fall back to the defaults.
type Backends struct {
	Compile string `json:"compile,omitempty"` // compile-to-native tool, default "cythonize"
	Bundle  string `json:"bundle,omitempty"`  // bundle-to-executable tool, default "pyinstaller"

	_ struct{} `additionalProperties:"false"`
}

// Build is the immutable configuration for one packaging run. It is
// assembled from the config file and CLI flags, then frozen by Prepare.
type Build struct {
	Entry       string   `json:"entry,omitempty"`
	Output      string   `json:"output,omitempty"`
	Format      string   `json:"format,omitempty"`
	IncludeDeps *bool    `json:"include_deps,omitempty"`
	Optimize    *bool    `json:"optimize,omitempty"`
	Banner      string   `json:"banner,omitempty"`
	Excluded    []string `json:"excluded_files,omitempty"`
	Workers     int      `json:"workers,omitempty"`
	Backends    Backends `json:"backends,omitempty"`

	format Format

	_ struct{} `additionalProperties:"false"`
}

// Root is the top-level structure of a pypack config file.
type Root struct {
	Build Build `json:"build"`

	_ struct{} `additionalProperties:"false"`
}

// UnmarshalYAML implements yaml.Unmarshaler for Root via a type alias to
// avoid recursive calls.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	*r = Root(raw)
	return nil
}

// Load reads, schema-validates and decodes a config file.
func Load(path string) (*Root, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(bs); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &root, nil
}

// IncludeDepsOrDefault returns the include-dependencies setting, defaulting
// to true like the original flag surface (--no-deps disables it).
func (b *Build) IncludeDepsOrDefault() bool {
	return b.IncludeDeps == nil || *b.IncludeDeps
}

// OptimizeOrDefault returns the optimization setting, defaulting to true
// (--no-optimize disables it).
func (b *Build) OptimizeOrDefault() bool {
	return b.Optimize == nil || *b.Optimize
}

// TargetFormat returns the parsed format. Only valid after Prepare.
func (b *Build) TargetFormat() Format {
	return b.format
}

// CompileTool returns the compile-to-native command name.
func (b *Build) CompileTool() string {
	if b.Backends.Compile != "" {
		return b.Backends.Compile
	}
	return "cythonize"
}

// BundleTool returns the bundle-to-executable command name.
func (b *Build) BundleTool() string {
	if b.Backends.Bundle != "" {
		return b.Backends.Bundle
	}
	return "pyinstaller"
}

// Prepare validates the request and resolves defaults: absolute paths, the
// platform dynamic-library format, worker count and glob patterns. It must
// be called exactly once before the request is acted on.
func (b *Build) Prepare() error {
	if b.Entry == "" {
		return fmt.Errorf("missing entry file")
	}

	abs, err := filepath.Abs(b.Entry)
	if err != nil {
		return err
	}
	b.Entry = abs

	fi, err := os.Stat(b.Entry)
	if err != nil {
		return fmt.Errorf("entry file: %w", err)
	}
	if fi.IsDir() || !strings.EqualFold(filepath.Ext(b.Entry), ".py") {
		return fmt.Errorf("entry file must be a Python source file (.py): %s", b.Entry)
	}

	if b.Output == "" {
		b.Output = "."
	}
	if b.Output, err = filepath.Abs(b.Output); err != nil {
		return err
	}

	if b.format, err = ParseFormat(b.Format); err != nil {
		return err
	}
	if b.format == FormatDefault {
		b.format = PlatformDylib()
	}

	if b.Banner != "" {
		if b.Banner, err = filepath.Abs(b.Banner); err != nil {
			return err
		}
	}

	for _, pattern := range b.Excluded {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}

	if b.Workers <= 0 {
		b.Workers = runtime.NumCPU()
	}

	return nil
}

// Merge overlays non-zero fields of other onto b. Used to apply CLI flags
// on top of a config file.
func (b *Build) Merge(other *Build) {
	if other.Entry != "" {
		b.Entry = other.Entry
	}
	if other.Output != "" {
		b.Output = other.Output
	}
	if other.Format != "" {
		b.Format = other.Format
	}
	if other.IncludeDeps != nil {
		b.IncludeDeps = other.IncludeDeps
	}
	if other.Optimize != nil {
		b.Optimize = other.Optimize
	}
	if other.Banner != "" {
		b.Banner = other.Banner
	}
	if len(other.Excluded) > 0 {
		b.Excluded = append(b.Excluded, other.Excluded...)
	}
	if other.Workers > 0 {
		b.Workers = other.Workers
	}
	if other.Backends.Compile != "" {
		b.Backends.Compile = other.Backends.Compile
	}
	if other.Backends.Bundle != "" {
		b.Backends.Bundle = other.Backends.Bundle
	}
}
