//go:build linux

package sysinfo

import "golang.org/x/sys/unix"

// readPhysicalMemoryMB 查询物理内存总量(MB).
func readPhysicalMemoryMB() (uint64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, err
	}
	return uint64(si.Totalram) * uint64(si.Unit) >> 20, nil
}
