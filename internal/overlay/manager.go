package overlay

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/SplitView/internal/logger"
)

// Manager handles overlay widgets and rendering
type Manager struct {
	mu      sync.RWMutex
	widgets []Widget
	enabled bool

	clock func() time.Time
	stats func() string
}

// NewManager creates a new overlay manager. clock feeds timestamp widgets
// and stats feeds stats widgets; either may be nil.
func NewManager(clock func() time.Time, stats func() string) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		enabled: true,
		clock:   clock,
		stats:   stats,
	}
}

// AddWidget appends a widget; widgets render in insertion order
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.widgets {
		if w.ID() == widget.ID() {
			return fmt.Errorf("widget with ID %s already exists", widget.ID())
		}
	}

	m.widgets = append(m.widgets, widget)
	logger.WithComponent("overlay").Debug().
		Str("id", widget.ID()).
		Str("type", widget.Type()).
		Msg("Added widget")
	return nil
}

// RemoveWidget removes a widget from the overlay
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, w := range m.widgets {
		if w.ID() == id {
			m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("widget with ID %s not found", id)
}

// GetWidget retrieves a widget by ID
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.widgets {
		if w.ID() == id {
			return w, true
		}
	}
	return nil, false
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// IsEnabled returns whether the overlay is enabled
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Render renders all enabled widgets onto the provided image. A widget
// that fails is logged and skipped.
func (m *Manager) Render(img *image.RGBA) {
	if !m.IsEnabled() {
		return
	}

	m.mu.RLock()
	widgets := make([]Widget, len(m.widgets))
	copy(widgets, m.widgets)
	m.mu.RUnlock()

	for _, widget := range widgets {
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img); err != nil {
			logger.WithComponent("overlay").Warn().
				Err(err).
				Str("id", widget.ID()).
				Msg("Failed to render widget")
		}
	}
}

// CreateWidget creates a new widget instance from configuration
func (m *Manager) CreateWidget(widgetType string, id string, config map[string]interface{}) (Widget, error) {
	var widget Widget
	var err error

	switch widgetType {
	case TypeText:
		widget, err = NewTextWidget(id, config)
	case TypeTimestamp:
		widget, err = NewTimestampWidget(id, m.clock, config)
	case TypeStats:
		widget, err = NewStatsWidget(id, m.stats, config)
	default:
		return nil, fmt.Errorf("unknown widget type: %s", widgetType)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s widget: %w", widgetType, err)
	}
	return widget, nil
}

// LoadFromConfig creates and adds widgets from configuration maps. Entries
// that cannot be built are logged and skipped.
func (m *Manager) LoadFromConfig(configs []map[string]interface{}) {
	log := logger.WithComponent("overlay")
	for _, config := range configs {
		widgetType, ok := config["type"].(string)
		if !ok {
			log.Warn().Msg("Skipping widget with missing type")
			continue
		}

		id, ok := config["id"].(string)
		if !ok {
			id = widgetType
		}

		widget, err := m.CreateWidget(widgetType, id, config)
		if err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Failed to create widget")
			continue
		}

		if err := m.AddWidget(widget); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Failed to add widget")
		}
	}
}

// ExportConfig exports all widget configurations in render order
func (m *Manager) ExportConfig() []map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make([]map[string]interface{}, 0, len(m.widgets))
	for _, widget := range m.widgets {
		configs = append(configs, widget.GetConfig())
	}
	return configs
}
