// internal/browser/session/manager.go
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/api/schemas"
	"github.com/xkilldash9x/otp-board/internal/browser/stealth"
	"github.com/xkilldash9x/otp-board/internal/config"
)

// Manager creates and tears down browser sessions. Each session gets a
// fresh profile directory and the stealth persona before its first page
// load.
type Manager struct {
	cfg        config.BrowserConfig
	navTimeout time.Duration
	snapshots  SnapshotConfig
	persona    schemas.Persona
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	active map[string]*Session
}

// NewManager builds a manager from the application config.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg.Browser,
		navTimeout: cfg.Portal.NavigationTimeout,
		snapshots:  SnapshotConfig{Enabled: cfg.Snapshots.Enabled, Dir: cfg.Snapshots.Dir},
		persona:    PersonaFor(cfg.Browser),
		logger:     logger.Named("browser_manager"),
		now:        time.Now,
		active:     make(map[string]*Session),
	}
}

// PersonaFor merges the configured browser identity over the default
// persona.
func PersonaFor(cfg config.BrowserConfig) schemas.Persona {
	p := schemas.DefaultPersona
	p.Languages = append([]string(nil), p.Languages...)
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if cfg.Platform != "" {
		p.Platform = cfg.Platform
	}
	if len(cfg.Languages) > 0 {
		p.Languages = append([]string(nil), cfg.Languages...)
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		p.Width, p.Height = int64(cfg.WindowWidth), int64(cfg.WindowHeight)
	}
	return p
}

// Flag is one Chrome command line switch. A false value removes a switch
// that is on by default.
type Flag struct {
	Name  string
	Value interface{}
}

// Flags lists the launch switches for a session, on top of chromedp's
// defaults.
func Flags(cfg config.BrowserConfig, persona schemas.Persona, headless bool, profileDir string) []Flag {
	var headlessValue interface{} = false
	if headless {
		headlessValue = "new"
	}
	flags := []Flag{
		{"headless", headlessValue},
		{"enable-automation", false},
		{"disable-blink-features", "AutomationControlled"},
		{"no-sandbox", true},
		{"disable-setuid-sandbox", true},
		{"disable-dev-shm-usage", true},
		{"disable-gpu", true},
		{"disable-extensions", true},
		{"disable-software-rasterizer", true},
		{"window-size", fmt.Sprintf("%d,%d", persona.Width, persona.Height)},
		{"user-data-dir", profileDir},
		{"disk-cache-dir", filepath.Join(profileDir, "cache")},
		{"user-agent", persona.UserAgent},
	}
	if len(persona.Languages) > 0 {
		flags = append(flags, Flag{"lang", persona.Languages[0]})
	}
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags = append(flags, Flag{name, value})
		} else {
			flags = append(flags, Flag{name, true})
		}
	}
	return flags
}

// AllocatorOptions converts flags into chromedp allocator options.
func AllocatorOptions(cfg config.BrowserConfig, flags []Flag) []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+len(flags)+1)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range flags {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// ProfileDir names the profile directory for a browser started at t.
func ProfileDir(root string, pid int, t time.Time) string {
	return filepath.Join(root, fmt.Sprintf("chr-profile-%d-%d", pid, t.Unix()))
}

// Create launches a browser and opens a tab with the persona applied.
// Launch failures wrap ErrDriverFatal.
func (m *Manager) Create(ctx context.Context, headless bool) (*Session, error) {
	profileDir := ProfileDir(m.cfg.ProfileRoot, os.Getpid(), m.now())
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating profile dir: %v", ErrDriverFatal, err)
	}

	flags := Flags(m.cfg, m.persona, headless, profileDir)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, AllocatorOptions(m.cfg, flags)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(m.logger.Sugar().Debugf))

	id := uuid.New().String()
	s := &Session{
		id:           id,
		headless:     headless,
		profileDir:   profileDir,
		logger:       m.logger.With(zap.String("session_id", id), zap.Bool("headless", headless)),
		navTimeout:   m.navTimeout,
		snapshots:    m.snapshots,
		keys:         newCadence(uint64(time.Now().UnixNano())),
		ctx:          tabCtx,
		cancelTab:    cancelTab,
		cancelBrowse: cancelAlloc,
		onClose:      m.forget,
	}

	// The first Run starts the browser process.
	if err := chromedp.Run(tabCtx, stealth.Apply(m.persona, s.logger)); err != nil {
		s.close()
		m.removeProfile(profileDir)
		return nil, fmt.Errorf("%w: starting browser: %v", ErrDriverFatal, err)
	}

	m.mu.Lock()
	m.active[id] = s
	m.mu.Unlock()
	s.logger.Info("Browser session started", zap.String("profile", profileDir))
	return s, nil
}

// Destroy closes the browser and reclaims the profile directory unless
// profiles are kept for debugging.
func (m *Manager) Destroy(s *Session) {
	if s == nil {
		return
	}
	s.close()
	m.removeProfile(s.profileDir)
	s.logger.Info("Browser session destroyed")
}

// Shutdown destroys every session still open.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		open = append(open, s)
	}
	m.mu.Unlock()
	for _, s := range open {
		m.Destroy(s)
	}
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	delete(m.active, s.id)
	m.mu.Unlock()
}

func (m *Manager) removeProfile(dir string) {
	if m.cfg.KeepProfiles {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("Could not remove browser profile", zap.String("dir", dir), zap.Error(err))
	}
}
