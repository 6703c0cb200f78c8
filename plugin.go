package s7

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Plugin allows extending client behavior (logging, metrics, connection
// monitoring, etc.). Inspired by gorm's plugin model.
type Plugin interface {
	// Name must return a unique plugin name.
	Name() string
	// Initialize is called once when the plugin is registered via Use.
	Initialize(*Client) error
}

// ConnectionPlugin is a Plugin that also wants connection state changes.
// OnDisconnected receives the error that dropped the connection, or nil for
// an explicit Disconnect. Hooks run synchronously and must not block.
type ConnectionPlugin interface {
	Plugin
	OnConnected(*Client) error
	OnDisconnected(*Client, error) error
}

// pluginManager wraps plugin registration to keep the Client struct focused.
type pluginManager struct {
	mu      sync.Mutex
	plugins map[string]Plugin
	order   []string
}

func (pm *pluginManager) use(c *Client, plugins ...Plugin) error {
	for _, p := range plugins {
		if p == nil {
			return fmt.Errorf("plugin is nil")
		}
		name := p.Name()
		if name == "" {
			return fmt.Errorf("plugin name cannot be empty")
		}

		// Reserve the name to avoid duplicate registration races.
		pm.mu.Lock()
		if pm.plugins == nil {
			pm.plugins = make(map[string]Plugin)
		}
		if _, exists := pm.plugins[name]; exists {
			pm.mu.Unlock()
			return fmt.Errorf("plugin %s already registered", name)
		}
		pm.plugins[name] = nil
		pm.mu.Unlock()

		if err := p.Initialize(c); err != nil {
			pm.mu.Lock()
			delete(pm.plugins, name)
			pm.mu.Unlock()
			return fmt.Errorf("initialize plugin %s: %w", name, err)
		}

		pm.mu.Lock()
		pm.plugins[name] = p
		pm.order = append(pm.order, name)
		pm.mu.Unlock()
	}

	return nil
}

// connectionPlugins returns the registered ConnectionPlugins in registration order.
func (pm *pluginManager) connectionPlugins() []ConnectionPlugin {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var out []ConnectionPlugin
	for _, name := range pm.order {
		if cp, ok := pm.plugins[name].(ConnectionPlugin); ok {
			out = append(out, cp)
		}
	}
	return out
}

func (c *Client) notifyConnected() {
	for _, p := range c.plugins.connectionPlugins() {
		if err := p.OnConnected(c); err != nil {
			c.logger().Warn("plugin hook failed", zap.String("plugin", p.Name()), zap.String("hook", "OnConnected"), zap.Error(err))
		}
	}
}

func (c *Client) notifyDisconnected(cause error) {
	for _, p := range c.plugins.connectionPlugins() {
		if err := p.OnDisconnected(c, cause); err != nil {
			c.logger().Warn("plugin hook failed", zap.String("plugin", p.Name()), zap.String("hook", "OnDisconnected"), zap.Error(err))
		}
	}
}
