//go:build !(unix || linux || darwin || freebsd || openbsd || netbsd)

package vecgraph

// dirLock is a no-op where flock is unavailable.
type dirLock struct{}

func lockDir(string) (*dirLock, error) { return &dirLock{}, nil }

func (*dirLock) release() error { return nil }
