//go:build !unix

package probe

import "os"

func statSignals(path string) (signals, error) {
	info, err := os.Stat(path)
	if err != nil {
		return signals{}, err
	}

	return signals{
		size:        info.Size(),
		allocated:   -1,
		isDirectory: info.IsDir(),
	}, nil
}
