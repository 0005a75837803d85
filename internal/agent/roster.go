// ABOUTME: Default agent roster and optional TOML roster file loading.
// ABOUTME: Seeded into the registry at broker startup.

package agent

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// RosterEntry names one agent the broker expects to see.
type RosterEntry struct {
	Name string
	Type string
}

// DefaultRoster returns the built-in set of well-known agent names. These
// are seeded unconnected at startup.
func DefaultRoster() []RosterEntry {
	names := []string{
		"director",
		"orchestrator",
		"security",
		"infrastructure",
		"monitor",
		"patcher",
		"debugger",
		"npu",
	}
	roster := make([]RosterEntry, len(names))
	for i, n := range names {
		roster[i] = RosterEntry{Name: n, Type: DefaultType}
	}
	return roster
}

// rosterFile is the on-disk TOML shape:
//
//	[agents]
//	director = "CORE"
//	security = "SECURITY"
type rosterFile struct {
	Agents map[string]string `toml:"agents"`
}

// LoadRoster reads a TOML roster file mapping agent name to type. Entries
// are returned sorted by name for deterministic seeding.
func LoadRoster(path string) ([]RosterEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster file: %w", err)
	}

	var rf rosterFile
	if err := toml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing roster file: %w", err)
	}

	roster := make([]RosterEntry, 0, len(rf.Agents))
	for name, agentType := range rf.Agents {
		roster = append(roster, RosterEntry{Name: name, Type: agentType})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Name < roster[j].Name })
	return roster, nil
}
