package patchwork

import (
	"fmt"
	"os/exec"
	"strings"
)

// ShellGit delegates to the git binary in the given working directory.
type ShellGit struct {
	Dir string
}

// AheadBehind runs `git rev-list --left-right --count head...base`.
func (g *ShellGit) AheadBehind(head, base string) (int, int, error) {
	cmd := exec.Command("git", "rev-list", "--left-right", "--count", head+"..."+base)
	cmd.Dir = g.Dir
	out, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("git rev-list: %w", err)
	}
	var ahead, behind int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%d\t%d", &ahead, &behind); err != nil {
		return 0, 0, fmt.Errorf("parse rev-list output %q: %w", out, err)
	}
	return ahead, behind, nil
}

// CreateBranch runs `git branch -f name commit`.
func (g *ShellGit) CreateBranch(name, commit string) error {
	cmd := exec.Command("git", "branch", "-f", name, commit)
	cmd.Dir = g.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git branch: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}
