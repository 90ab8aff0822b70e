//go:build unix

package monitoring

import "syscall"

// platformDiskFree reports the bytes available to unprivileged writers on the
// filesystem containing path.
func platformDiskFree(path string) (uint64, error) {
	var st syscall.Statfs_t

	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}

	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
