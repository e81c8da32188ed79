package utils

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeCloser struct {
	err error
}

func (f *fakeCloser) Close() error {
	return f.err
}

func TestCloseManyReturnsNilWhenAllSucceed(t *testing.T) {
	closers := []io.Closer{&fakeCloser{}, &fakeCloser{}}
	assert.NoError(t, CloseMany(closers))
}

func TestCloseManyAggregatesFailuresAndClosesAll(t *testing.T) {
	first := &fakeCloser{err: errors.New("boom")}
	second := &fakeCloser{}
	third := &fakeCloser{err: errors.New("bang")}

	err := CloseMany([]io.Closer{first, second, third})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "bang")
}

func TestSafeTruncateLeavesShortStringsUntouched(t *testing.T) {
	assert.Equal(t, "abc", SafeTruncate("abc", 10))
}

func TestSafeTruncateCutsLongStringsToLimit(t *testing.T) {
	assert.Equal(t, "abcde", SafeTruncate("abcdefghij", 5))
}
