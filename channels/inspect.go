package channels

import "sort"

// ChannelInfo is a point-in-time snapshot of an open channel.
type ChannelInfo struct {
	Name     string        `json:"name"`
	Platform string        `json:"platform"`
	Status   ChannelStatus `json:"status"`
}

// ListChannels returns a snapshot of every open channel, sorted by name.
func (d *Dispatcher) ListChannels() []ChannelInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ChannelInfo, 0, len(d.channels))
	for name, entry := range d.channels {
		out = append(out, ChannelInfo{
			Name:     name,
			Platform: entry.platform,
			Status:   entry.channel.Status(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Inspect returns a snapshot of one open channel.
func (d *Dispatcher) Inspect(name string) (ChannelInfo, bool) {
	d.mu.RLock()
	entry, ok := d.channels[name]
	d.mu.RUnlock()

	if !ok {
		return ChannelInfo{}, false
	}
	return ChannelInfo{
		Name:     name,
		Platform: entry.platform,
		Status:   entry.channel.Status(),
	}, true
}
