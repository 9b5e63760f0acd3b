package entity

const deviceNameKey = "device_name"

// Metadata is the fixed set of descriptive tags attached to every outgoing
// transfer. Loaded once per run and treated as immutable afterwards.
type Metadata map[string]string

// DeviceName returns the optional device_name tag, or "unknown" if the
// metadata does not carry one.
func (m Metadata) DeviceName() string {
	if name, exists := m[deviceNameKey]; exists && name != "" {
		return name
	}

	return "unknown"
}

// Merged returns a copy of m with extra keys added on top. Extra keys win
// over run metadata on collision.
func (m Metadata) Merged(extra map[string]string) map[string]string {
	merged := make(map[string]string, len(m)+len(extra))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}

	return merged
}
