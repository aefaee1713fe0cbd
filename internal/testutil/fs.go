package testutil

import (
	"errors"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// ErrInjected is returned by FlakyFs while it is failing
var ErrInjected = errors.New("injected storage failure")

// FlakyFs wraps an afero.Fs and fails writes on demand. Reads and stats
// always pass through so tests can inspect what reached storage.
//
// Thread-safety: all methods are safe for concurrent use.
type FlakyFs struct {
	afero.Fs

	mu        sync.Mutex
	failing   bool
	failNext  int
	failClose int
	openCalls int
}

// NewFlakyFs wraps an in-memory filesystem
func NewFlakyFs() *FlakyFs {
	return &FlakyFs{Fs: afero.NewMemMapFs()}
}

// SetFailing makes every write open fail until cleared
func (f *FlakyFs) SetFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

// FailNext makes the next n write opens fail
func (f *FlakyFs) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

// FailNextClose makes Close fail on the next n files opened for writing.
// The file is still closed underneath, so everything written before
// Close reaches storage.
func (f *FlakyFs) FailNextClose(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failClose = n
}

// WriteOpens is the number of OpenFile calls requesting write access
func (f *FlakyFs) WriteOpens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls
}

func (f *FlakyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		f.mu.Lock()
		f.openCalls++
		fail := f.failing
		if !fail && f.failNext > 0 {
			f.failNext--
			fail = true
		}
		failClose := false
		if !fail && f.failClose > 0 {
			f.failClose--
			failClose = true
		}
		f.mu.Unlock()
		if fail {
			return nil, &os.PathError{Op: "open", Path: name, Err: ErrInjected}
		}
		if failClose {
			file, err := f.Fs.OpenFile(name, flag, perm)
			if err != nil {
				return nil, err
			}
			return &closeFailingFile{File: file}, nil
		}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

type closeFailingFile struct {
	afero.File
}

func (c *closeFailingFile) Close() error {
	if err := c.File.Close(); err != nil {
		return err
	}
	return &os.PathError{Op: "close", Path: c.Name(), Err: ErrInjected}
}
