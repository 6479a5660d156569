package security

import (
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// copyRecursive copies srcDir's contents into targetDir, used by Bootstrap
// to seed a fresh local cache from a directory of role files shipped
// alongside the application.
func copyRecursive(srcDir, targetDir string) error {
	if !strings.HasSuffix(srcDir, `\`) {
		srcDir += `\`
	}
	cmd := exec.Command("xcopy", "/E", "/Y", srcDir, targetDir)
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, "copy recursive")
	}
	return nil
}
