//go:build !linux && !darwin && !freebsd

package queue

func freeDiskBytes(string) (uint64, bool) {
	return 0, false
}
