package nudge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Debounce tracks mail-check debounce state: a mapping from agent name to
// last-checked timestamp in epoch millis, rewritten in full on every
// update.
type Debounce struct {
	path string
	mu   sync.Mutex
}

// NewDebounce creates a debounce tracker backed by the file at path.
func NewDebounce(path string) *Debounce {
	return &Debounce{path: path}
}

func (d *Debounce) load() (map[string]int64, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int64{}, nil
		}
		return nil, fmt.Errorf("reading debounce state: %w", err)
	}
	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding debounce state: %w", err)
	}
	if m == nil {
		m = map[string]int64{}
	}
	return m, nil
}

func (d *Debounce) save(m map[string]int64) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding debounce state: %w", err)
	}
	tmp := d.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("creating debounce directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing debounce state: %w", err)
	}
	return os.Rename(tmp, d.path)
}

// LastChecked returns the last-checked time for agent, or the zero time if
// the agent has never been recorded.
func (d *Debounce) LastChecked(agent string) (time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.load()
	if err != nil {
		return time.Time{}, err
	}
	ms, ok := m[agent]
	if !ok {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

// Touch records now as agent's last-checked time.
func (d *Debounce) Touch(agent string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.load()
	if err != nil {
		return err
	}
	m[agent] = now.UnixMilli()
	return d.save(m)
}

// Eligible reports whether agent is due for another eligible poll: true if
// force is set (force-sent nudges bypass the debounce window) or if
// window has elapsed since the agent's last-checked time.
func (d *Debounce) Eligible(agent string, now time.Time, window time.Duration, force bool) (bool, error) {
	if force {
		return true, nil
	}
	last, err := d.LastChecked(agent)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return true, nil
	}
	return now.Sub(last) >= window, nil
}
