package demand

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Script is a deterministic demand fixture: one list of arrivals per cycle
type Script struct {
	// Loop restarts from the first cycle once the script is exhausted;
	// otherwise later cycles see no demand.
	Loop   bool          `json:"loop"`
	Cycles []ScriptCycle `json:"cycles"`
}

// ScriptCycle holds the arrivals of a single cycle
type ScriptCycle struct {
	Arrivals []Arrival `json:"arrivals"`
}

// ParseScript decodes a YAML or JSON script
func ParseScript(data []byte) (*Script, error) {
	script := &Script{}
	if err := yaml.UnmarshalStrict(data, script); err != nil {
		return nil, errors.Wrap(err, "decoding demand script")
	}
	return script, nil
}

// LoadScript reads a script from disk
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading demand script %s", path)
	}
	return ParseScript(data)
}

// ScriptedSource replays a Script, one ScriptCycle per Collect call
type ScriptedSource struct {
	script *Script

	mutex sync.Mutex
	next  int
}

// NewScriptedSource creates a source replaying script
func NewScriptedSource(script *Script) *ScriptedSource {
	if script == nil {
		script = &Script{}
	}
	return &ScriptedSource{script: script}
}

// Collect implements Source. Arrivals for identities outside ids are still
// forwarded; the ingestor decides whether they are known.
func (s *ScriptedSource) Collect(ctx context.Context, _ []int, ing Ingestor) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	n := len(s.script.Cycles)
	if n == 0 {
		return nil
	}
	if s.next >= n {
		if !s.script.Loop {
			return nil
		}
		s.next = 0
	}
	cycle := s.script.Cycles[s.next]
	s.next++

	for _, a := range cycle.Arrivals {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = a.record(ing)
	}
	return nil
}

// Remaining reports how many scripted cycles are left before the script
// loops or runs dry
func (s *ScriptedSource) Remaining() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.next >= len(s.script.Cycles) {
		return 0
	}
	return len(s.script.Cycles) - s.next
}
