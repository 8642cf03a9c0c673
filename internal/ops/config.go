/*
Ops loads and validates the engine's JSON configuration.

# Module
  - Load: file parsing, validation, resolution to runtime config

# Source
  - JSON config file given on the command line

# Produce
  - resolved session, store, journal, and admin settings

# Sharded
  - loaded once at startup; read-only afterwards
*/
package ops

import (
	"os"
	"time"

	"main/internal/journal"
	"main/internal/session"
	"main/pkg/conn"
	"main/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePebble   = "pebble"
	StorePostgres = "postgres"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Sessions []SessionConfig `json:"sessions"`
	Store    StoreConfig     `json:"store"`
	Journal  JournalConfig   `json:"journal"`
	Admin    AdminConfig     `json:"admin"`
	Profile  ProfileConfig   `json:"profile"`
}

// SessionConfig describes one counterparty session entry.
type SessionConfig struct {
	Name             string `json:"name"`
	Host             string `json:"host"`
	Port             int    `json:"port"`
	BeginString      string `json:"beginString"`
	SenderCompID     string `json:"senderCompId"`
	TargetCompID     string `json:"targetCompId"`
	HeartbeatSeconds int    `json:"heartbeatSeconds"`
	LogonTimeoutSec  int    `json:"logonTimeoutSeconds"`
	LogoutTimeoutSec int    `json:"logoutTimeoutSeconds"`
	ResendTimeoutSec int    `json:"resendTimeoutSeconds"`
	ConnectOnStartup bool   `json:"connectOnStartup"`
}

// StoreConfig selects and parameterizes the sequence store backend.
type StoreConfig struct {
	Backend  string      `json:"backend"`
	Path     string      `json:"path"`
	Postgres conn.Option `json:"postgres"`
}

// JournalConfig controls the wire-traffic journal.
type JournalConfig struct {
	Enable          bool   `json:"enable"`
	Dir             string `json:"dir"`
	SegmentMaxBytes int64  `json:"segmentMaxBytes"`
	TailSize        int    `json:"tailSize"`
}

// AdminConfig exposes the local command socket.
type AdminConfig struct {
	Enable bool   `json:"enable"`
	Socket string `json:"socket"`
}

// ProfileConfig enables continuous profiling.
type ProfileConfig struct {
	Enable        bool   `json:"enable"`
	ServerAddress string `json:"serverAddress"`
	AppName       string `json:"appName"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Sessions       []ResolvedSession
	Store          StoreConfig
	Journal        journal.Config
	JournalEnabled bool
	Admin          AdminConfig
	Profile        ProfileConfig
}

// ResolvedSession pairs the runtime session config with startup behavior.
type ResolvedSession struct {
	Config           session.Config
	ConnectOnStartup bool
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config file").With("path", path)
	}
	return Parse(data)
}

// Parse resolves raw JSON config bytes.
func Parse(data []byte) (Loaded, error) {
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{
		Store:   cfg.Store,
		Admin:   cfg.Admin,
		Profile: cfg.Profile,
	}
	if cfg.Store.Backend == "" {
		loaded.Store.Backend = StoreMemory
	}
	for _, sc := range cfg.Sessions {
		loaded.Sessions = append(loaded.Sessions, ResolvedSession{
			Config:           sc.resolve(),
			ConnectOnStartup: sc.ConnectOnStartup,
		})
	}
	if cfg.Journal.Enable {
		loaded.JournalEnabled = true
		jc := journal.DefaultConfig(cfg.Journal.Dir)
		if cfg.Journal.SegmentMaxBytes > 0 {
			jc.SegmentMaxBytes = cfg.Journal.SegmentMaxBytes
		}
		if cfg.Journal.TailSize > 0 {
			jc.TailSize = cfg.Journal.TailSize
		}
		loaded.Journal = jc
	}
	return loaded, nil
}

// Validate checks if the configuration is usable.
func (c FileConfig) Validate() error {
	if len(c.Sessions) == 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "config defines no sessions")
	}
	names := make(map[string]struct{}, len(c.Sessions))
	for _, s := range c.Sessions {
		if err := s.validate(); err != nil {
			return err
		}
		if _, dup := names[s.Name]; dup {
			return errors.Wrap(exception.ErrInvalidArgument, "duplicate session name").With("session", s.Name)
		}
		names[s.Name] = struct{}{}
	}
	switch c.Store.Backend {
	case "", StoreMemory, StorePostgres:
	case StoreFile, StorePebble:
		if c.Store.Path == "" {
			return errors.Wrap(exception.ErrInvalidArgument, "store backend requires a path").With("backend", c.Store.Backend)
		}
	default:
		return errors.Wrap(exception.ErrInvalidArgument, "unknown store backend").With("backend", c.Store.Backend)
	}
	if c.Journal.Enable && c.Journal.Dir == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "journal enabled without a directory")
	}
	if c.Admin.Enable && c.Admin.Socket == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "admin enabled without a socket path")
	}
	if c.Profile.Enable && c.Profile.ServerAddress == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "profiling enabled without a server address")
	}
	return nil
}

func (s SessionConfig) validate() error {
	switch {
	case s.Name == "":
		return errors.Wrap(exception.ErrInvalidArgument, "session name required")
	case s.Host == "":
		return errors.Wrap(exception.ErrInvalidArgument, "session host required").With("session", s.Name)
	case s.Port <= 0 || s.Port > 65535:
		return errors.Wrap(exception.ErrInvalidArgument, "session port out of range").
			With("session", s.Name).
			With("port", s.Port)
	case s.SenderCompID == "":
		return errors.Wrap(exception.ErrInvalidArgument, "sender comp id required").With("session", s.Name)
	case s.TargetCompID == "":
		return errors.Wrap(exception.ErrInvalidArgument, "target comp id required").With("session", s.Name)
	default:
		return nil
	}
}

func (s SessionConfig) resolve() session.Config {
	cfg := session.Config{
		Name:         s.Name,
		Host:         s.Host,
		Port:         s.Port,
		BeginString:  s.BeginString,
		SenderCompID: s.SenderCompID,
		TargetCompID: s.TargetCompID,
	}
	if cfg.BeginString == "" {
		cfg.BeginString = "FIX.4.4"
	}
	if s.HeartbeatSeconds > 0 {
		cfg.HeartbeatInterval = time.Duration(s.HeartbeatSeconds) * time.Second
	}
	if s.LogonTimeoutSec > 0 {
		cfg.LogonTimeout = time.Duration(s.LogonTimeoutSec) * time.Second
	}
	if s.LogoutTimeoutSec > 0 {
		cfg.LogoutTimeout = time.Duration(s.LogoutTimeoutSec) * time.Second
	}
	if s.ResendTimeoutSec > 0 {
		cfg.ResendTimeout = time.Duration(s.ResendTimeoutSec) * time.Second
	}
	return cfg
}
