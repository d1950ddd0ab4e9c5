package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// File is the ini configuration file
type File struct {
	file *ini.File
}

// DefaultPath returns ~/.channelmine/config
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".channelmine", "config"), nil
}

// LoadFile reads an ini configuration file. A missing file yields an empty
// configuration, not an error.
func LoadFile(path string) (*File, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &File{file: ini.Empty()}, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	return &File{file: file}, nil
}

// GetString retrieves a string value from the config
// section.key format (e.g., "discord.token")
func (c *File) GetString(key string) string {
	section, keyName := c.parseKey(key)
	if section == "" {
		return ""
	}

	// GetSection and GetKey never create what they look up
	sec, err := c.file.GetSection(section)
	if err != nil {
		return ""
	}

	k, err := sec.GetKey(keyName)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(k.String())
}

// GetInt retrieves an integer value from the config
func (c *File) GetInt(key string) (int, error) {
	val := c.GetString(key)
	if val == "" {
		return 0, nil
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value for %s: %w", key, err)
	}

	return intVal, nil
}

// GetFloat retrieves a floating point value from the config
func (c *File) GetFloat(key string) (float64, error) {
	val := c.GetString(key)
	if val == "" {
		return 0, nil
	}

	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number for %s: %w", key, err)
	}

	return f, nil
}

// GetList retrieves a comma-separated list, dropping blank entries
func (c *File) GetList(key string) []string {
	return splitList(c.GetString(key))
}

// HasKey checks if a key exists in the config
func (c *File) HasKey(key string) bool {
	section, keyName := c.parseKey(key)
	if section == "" {
		return false
	}

	sec, err := c.file.GetSection(section)
	if err != nil {
		return false
	}

	return sec.HasKey(keyName)
}

// parseKey splits a dotted key into section and key name, using the last
// dot as the separator
func (c *File) parseKey(key string) (string, string) {
	lastDot := strings.LastIndex(key, ".")
	if lastDot == -1 {
		return "", ""
	}

	return key[:lastDot], key[lastDot+1:]
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
