//go:build unix && !linux

package tt

func adviseLargePages([]byte) {}
