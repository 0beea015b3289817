package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// DirChecker verifies that the clip directory exists and is readable.
func DirChecker(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			fi, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			if !fi.IsDir() {
				return fmt.Errorf("%s is not a directory", path)
			}
			return nil
		},
	}
}

// GatewayChecker verifies the Discord gateway connection via the supplied
// probe, which reports whether the websocket session is currently up.
func GatewayChecker(connected func() bool) Checker {
	return Checker{
		Name: "discord",
		Check: func(context.Context) error {
			if !connected() {
				return errors.New("gateway not connected")
			}
			return nil
		},
	}
}

// BinaryChecker verifies that the named binary resolves on $PATH (or is an
// absolute path to an executable). Used for the ffmpeg decode dependency.
func BinaryChecker(name, binary string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if _, err := exec.LookPath(binary); err != nil {
				return fmt.Errorf("lookup %s: %w", binary, err)
			}
			return nil
		},
	}
}
