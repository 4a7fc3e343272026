//go:build !unix

package peer

import "runtime"

func OSName() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
