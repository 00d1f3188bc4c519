// Package agentconfig loads and queries the per-agent configuration map:
// name -> {url|base_url+path, handler, headers, query, use_real,
// callback_url, authorization, app_id, department_id, ...}. Unknown keys
// are preserved verbatim so handlers can reach into handler-specific
// extensions without a schema change here.
package agentconfig

import (
	"encoding/json"
	"os"
)

// Config is a single agent's configuration map. Keys are duck-typed:
// common keys (handler, callback_url, use_real, ...) have typed accessors
// below; anything else is read by indexing the map directly.
type Config map[string]any

// secretKeys lists the fields that must be masked whenever a Config is
// logged.
var secretKeys = []string{"authorization", "private_key", "secret", "api_key", "token"}

// String returns the string value of key, or "" if absent or not a string.
func (c Config) String(key string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// FirstString returns the first non-empty string value among keys.
func (c Config) FirstString(keys ...string) string {
	for _, k := range keys {
		if v := c.String(k); v != "" {
			return v
		}
	}
	return ""
}

// Bool returns the boolean value of key, or false if absent or not a bool.
func (c Config) Bool(key string) bool {
	if v, ok := c[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Handler returns the configured handler name, falling back to agentName
// with '-' normalised to '_' per spec.md §9's compile-time registry rule.
func (c Config) Handler(agentName string) string {
	if h := c.String("handler"); h != "" {
		return h
	}
	return normalizeHandlerName(agentName)
}

func normalizeHandlerName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

// UseReal implements spec.md §4.7's real-vs-stub decision: real if
// use_real=true OR any of base_url, host, conversation_url, upload_url,
// run_url, app_id, appId is non-empty. This is an OR, not an
// AND-with-override, per the recorded Open Question decision.
func (c Config) UseReal() bool {
	if c.Bool("use_real") {
		return true
	}
	for _, k := range []string{"base_url", "host", "conversation_url", "upload_url", "run_url", "app_id", "appId"} {
		if c.String(k) != "" {
			return true
		}
	}
	return false
}

// Headers returns the configured header overlay, or nil.
func (c Config) Headers() map[string]string {
	return stringMap(c["headers"])
}

// Query returns the configured query overlay, or nil.
func (c Config) Query() map[string]string {
	return stringMap(c["query"])
}

func stringMap(v any) map[string]string {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Masked returns a copy of c with every secret-like field masked, suitable
// for logging.
func (c Config) Masked() Config {
	out := make(Config, len(c))
	for k, v := range c {
		if isSecretKey(k) {
			if s, ok := v.(string); ok {
				out[k] = MaskSecret(s)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func isSecretKey(key string) bool {
	for _, k := range secretKeys {
		if k == key {
			return true
		}
	}
	return false
}

// MaskSecret masks a secret value for logging: first 4 + "****" + last 4,
// or "****" if the value is 8 characters or shorter.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// Map is the full set of agent configurations, keyed by agent name.
type Map map[string]Config

// LoadFile reads a JSON file of {agentName: {...}} into a Map.
func LoadFile(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]Config
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return Map(raw), nil
}
