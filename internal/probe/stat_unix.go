//go:build unix && !darwin

package probe

import "golang.org/x/sys/unix"

// statSignals reads size and allocated blocks. No dataless flag is exposed on these platforms,
// so detection rests on the allocation ratio.
func statSignals(path string) (signals, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return signals{}, err
	}

	return signals{
		size:        int64(st.Size),
		allocated:   int64(st.Blocks) * 512,
		isDirectory: uint32(st.Mode)&unix.S_IFMT == unix.S_IFDIR,
	}, nil
}
