package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// PromptMissing asks for the controller password on the terminal when the
// file and the environment leave it empty.
func (c *Config) PromptMissing(in *os.File, out io.Writer) error {
	if c.Password != "" {
		return nil
	}
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("pwd is not set: set %s or run interactively", EnvPassword)
	}

	fmt.Fprintf(out, "Password for %s@%s: ", c.User, c.IP)
	pwd, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	c.Password = strings.TrimSpace(string(pwd))
	if c.Artifacts.Enabled && c.Artifacts.Password == "" && c.Artifacts.KeyFile == "" {
		c.Artifacts.Password = c.Password
	}
	return nil
}
