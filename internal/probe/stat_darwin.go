//go:build darwin

package probe

import "golang.org/x/sys/unix"

// sfDataless is SF_DATALESS from <sys/stat.h>: the file is a placeholder whose data lives with
// the file provider.
const sfDataless = 0x40000000

func statSignals(path string) (signals, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return signals{}, err
	}

	return signals{
		size:        int64(st.Size),
		allocated:   int64(st.Blocks) * 512,
		dataless:    st.Flags&sfDataless != 0,
		isDirectory: st.Mode&unix.S_IFMT == unix.S_IFDIR,
	}, nil
}
