package security

import (
	"fmt"

	"github.com/vyrodovalexey/apimlgw/internal/config"
)

// TopologyMode is the deployment topology. It is resolved once at startup.
type TopologyMode int

// Topology modes.
const (
	// TopologyMicroservice runs the gateway as a separately deployed
	// service. It is the standalone mode.
	TopologyMicroservice TopologyMode = iota

	// TopologyModulith runs the gateway inside one consolidated process.
	TopologyModulith
)

// Gateway route prefixes per topology.
const (
	MicroservicePrefix = "/gateway/api/v1"
	ModulithPrefix     = "/api/v1/gateway"
)

// ParseTopology parses a configured topology name. The empty string is
// the microservice topology.
func ParseTopology(s string) (TopologyMode, error) {
	switch s {
	case "", config.TopologyMicroservice:
		return TopologyMicroservice, nil
	case config.TopologyModulith:
		return TopologyModulith, nil
	default:
		return 0, fmt.Errorf("unknown topology %q", s)
	}
}

// String returns the configuration name of m.
func (m TopologyMode) String() string {
	switch m {
	case TopologyMicroservice:
		return config.TopologyMicroservice
	case TopologyModulith:
		return config.TopologyModulith
	default:
		return fmt.Sprintf("topology(%d)", int(m))
	}
}

// Standalone reports whether m is the standalone topology.
func (m TopologyMode) Standalone() bool {
	return m == TopologyMicroservice
}

// GatewayPrefix returns the prefix of the gateway's own endpoints.
func (m TopologyMode) GatewayPrefix() string {
	if m == TopologyModulith {
		return ModulithPrefix
	}
	return MicroservicePrefix
}
