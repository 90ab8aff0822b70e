//go:build !unix

package monitoring

func platformDiskFree(string) (uint64, error) {
	return 0, errDiskStatsUnsupported
}
