package portpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocateExcludesUsedAndReserved(t *testing.T) {
	p := New(8900, 8903)

	ports, err := p.Allocate(map[int]bool{8900: true}, 2)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []int{8901, 8902}, ports)
}

func TestAllocateExhausted(t *testing.T) {
	p := New(8900, 8901)

	_, err := p.Allocate(nil, 2)
	var exhausted *ErrResourceExhausted
	assert.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Available)
}

func TestReleaseIsIdempotentAndFreesPorts(t *testing.T) {
	p := New(8900, 8901)

	ports, err := p.Allocate(nil, 1)
	assert.NoError(t, err)
	assert.True(t, p.Reserved(8900))

	p.Release(ports)
	assert.False(t, p.Reserved(8900))

	// releasing again, or releasing a never-held port, must not panic or error
	p.Release(ports)
	p.Release([]int{12345})

	// and the pool must not have grown monotonically: allocation succeeds again
	ports, err = p.Allocate(nil, 1)
	assert.NoError(t, err)
	assert.Equal(t, []int{8900}, ports)
}

func TestReservationReleasedOnEveryExitPath(t *testing.T) {
	p := New(8900, 8902)

	runAttempt := func(fail bool) error {
		ports, err := p.Allocate(nil, 1)
		if err != nil {
			return err
		}
		defer p.Release(ports)

		if fail {
			return assert.AnError
		}
		return nil
	}

	assert.Error(t, runAttempt(true))
	assert.NoError(t, runAttempt(false))

	// the reservation set must not grow across the two attempts
	ports, err := p.Allocate(nil, 2)
	assert.NoError(t, err)
	assert.Len(t, ports, 2)
}
