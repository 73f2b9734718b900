//go:build !linux

package sysinfo

import "errors"

// readPhysicalMemoryMB 在不支持的平台上返回错误, 由调用方降级为 0 哨兵.
func readPhysicalMemoryMB() (uint64, error) {
	return 0, errors.New("physical memory query not supported on this platform")
}
