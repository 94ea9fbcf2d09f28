// Package hybrid assembles a Galaxy coordinator and its Planets into one
// runnable engine: Config describes the topology, Engine builds and runs
// it.
package hybrid

import (
	"strconv"

	"aikasim/simerr"
	"aikasim/world"
)

// Config describes the topology of a hybrid engine before it is built:
// how many worlds, how many agents (and their initial-state arena sizes)
// each world starts with, the shared time bounds, and the optimistic
// synchronization knobs every Planet gates on.
type Config struct {
	NumberOfWorlds    int
	WorldStateSizes   []int
	AgentStateSizes   [][]int
	AntiMessageArena  int
	ThrottleHorizon   uint64
	CheckpointFreq    uint64
	Terminal          float64
	Timestep          float64
	Timescale         float64
}

// NewConfig starts a Config for numberOfWorlds, each with a zeroed state
// arena, ready for WithWorld/WithUniformWorlds to fill in.
func NewConfig(numberOfWorlds, antiMessageArena int) *Config {
	return &Config{
		NumberOfWorlds:   numberOfWorlds,
		WorldStateSizes:  make([]int, numberOfWorlds),
		AgentStateSizes:  make([][]int, numberOfWorlds),
		AntiMessageArena: antiMessageArena,
	}
}

// WithTimeBounds sets the shared terminal time and timestep.
func (c *Config) WithTimeBounds(terminal, timestep float64) *Config {
	c.Terminal = terminal
	c.Timestep = timestep
	return c
}

// WithTimescale sets the informational real-time playback multiplier
// forwarded to every world's TimeInfo. It is never consulted by scheduling
// logic.
func (c *Config) WithTimescale(timescale float64) *Config {
	c.Timescale = timescale
	return c
}

// WithOptimisticSync sets the Time Warp throttle horizon and checkpoint
// frequency every Planet gates on.
func (c *Config) WithOptimisticSync(throttleHorizon, checkpointFrequency uint64) *Config {
	c.ThrottleHorizon = throttleHorizon
	c.CheckpointFreq = checkpointFrequency
	return c
}

// WithWorld configures one world's state arena size and its agents' state
// arena sizes.
func (c *Config) WithWorld(worldID int, worldStateSize int, agentStateSizes []int) (*Config, error) {
	if worldID >= c.NumberOfWorlds {
		return c, &simerr.InvalidWorldIDError{WorldID: uint64(worldID)}
	}
	c.WorldStateSizes[worldID] = worldStateSize
	c.AgentStateSizes[worldID] = agentStateSizes
	return c, nil
}

// WithUniformWorlds configures every world identically: the same state
// size, the same number of agents, the same per-agent state size.
func (c *Config) WithUniformWorlds(worldStateSize, agentsPerWorld, agentStateSize int) *Config {
	for i := 0; i < c.NumberOfWorlds; i++ {
		c.WorldStateSizes[i] = worldStateSize
		sizes := make([]int, agentsPerWorld)
		for j := range sizes {
			sizes[j] = agentStateSize
		}
		c.AgentStateSizes[i] = sizes
	}
	return c
}

// AddAgentToWorld appends one more agent's state arena size to worldID.
func (c *Config) AddAgentToWorld(worldID int, agentStateSize int) (*Config, error) {
	if worldID >= c.NumberOfWorlds {
		return c, &simerr.InvalidWorldIDError{WorldID: uint64(worldID)}
	}
	c.AgentStateSizes[worldID] = append(c.AgentStateSizes[worldID], agentStateSize)
	return c, nil
}

// TotalAgents sums the agent count across every world.
func (c *Config) TotalAgents() int {
	total := 0
	for _, agents := range c.AgentStateSizes {
		total += len(agents)
	}
	return total
}

// Validate reports whether every field required to build an engine has been
// set.
func (c *Config) Validate() error {
	if c.Terminal <= 0 {
		return &simerr.ConfigError{Reason: "terminal time must be positive"}
	}
	if c.Timestep <= 0 {
		return &simerr.ConfigError{Reason: "timestep must be positive"}
	}
	if c.ThrottleHorizon == 0 {
		return &simerr.ConfigError{Reason: "throttle horizon must be set"}
	}
	if c.CheckpointFreq == 0 {
		return &simerr.ConfigError{Reason: "checkpoint frequency must be set"}
	}
	for i, size := range c.WorldStateSizes {
		if size == 0 {
			return &simerr.ConfigError{Reason: "world state size not configured for world " + strconv.Itoa(i)}
		}
	}
	return nil
}

// TimeInfo returns the world.TimeInfo every Planet shares.
func (c *Config) TimeInfo() world.TimeInfo {
	return world.TimeInfo{Timestep: c.Timestep, Terminal: c.Terminal, Timescale: c.Timescale}
}

// WorldConfig returns worldID's state arena size, the anti-message arena
// size, and its agents' state arena sizes.
func (c *Config) WorldConfig(worldID int) (worldStateSize, antiMessageArena int, agentStateSizes []int, err error) {
	if worldID >= c.NumberOfWorlds {
		return 0, 0, nil, &simerr.InvalidWorldIDError{WorldID: uint64(worldID)}
	}
	return c.WorldStateSizes[worldID], c.AntiMessageArena, c.AgentStateSizes[worldID], nil
}
