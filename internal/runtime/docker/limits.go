package docker

import "github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"

func normalizeSpec(spec ports.RunSpec) ports.RunSpec {
	if spec.Timeout < 0 {
		spec.Timeout = 0
	}
	if spec.MemoryLimitBytes < 0 {
		spec.MemoryLimitBytes = 0
	}
	if spec.NanoCPUs < 0 {
		spec.NanoCPUs = 0
	}
	return spec
}
