package engine

import (
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/assert"
)

func TestNewAllowsAPIVersionNegotiation(t *testing.T) {
	d, err := New(nil)
	assert.NoError(t, err)
	defer d.Close()

	assert.NotNil(t, d.Client)
}

func TestSummaryFromEngineTrimsNamePrefix(t *testing.T) {
	c := types.Container{
		ID:     "abc123",
		Names:  []string{"/my-service"},
		Image:  "my-service:latest",
		State:  "running",
		Labels: map[string]string{InbandLabel: "true"},
		Ports: []types.Port{
			{PrivatePort: 8080, PublicPort: 8901},
			{PrivatePort: 9090, PublicPort: 0}, // unpublished, must be excluded
		},
		Created: time.Now().Unix(),
	}

	summary := summaryFromEngine(c)
	assert.Equal(t, "my-service", summary.Name)
	assert.Equal(t, map[int]int{8080: 8901}, summary.Ports)
}

func TestToPortBindingsMapsContainerToHostPort(t *testing.T) {
	bindings, exposed := toPortBindings(map[int]int{8080: 8901})

	assert.Len(t, bindings, 1)
	assert.Len(t, exposed, 1)
	for port, b := range bindings {
		assert.Equal(t, "8080/tcp", string(port))
		assert.Equal(t, "8901", b[0].HostPort)
	}
}

func TestIsNotFoundOnlyMatches404(t *testing.T) {
	assert.True(t, IsNotFound(newEngineError(404, "no such container")))
	assert.False(t, IsNotFound(newEngineError(500, "daemon is unhealthy")))
	assert.False(t, IsNotFound(nil))
}
