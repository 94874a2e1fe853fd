package open

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// File opens path in $EDITOR (less when unset) positioned at line.
func File(path string, line int) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file not found: %s", path)
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "less"
	}

	cmd := exec.Command(editor, editorArgs(editor, path, line)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func editorArgs(editor, path string, line int) []string {
	if line < 1 {
		line = 1
	}
	switch {
	case strings.Contains(editor, "vim") || strings.Contains(editor, "nvim"):
		return []string{fmt.Sprintf("+%d", line), path}
	case strings.Contains(editor, "code"):
		return []string{"--goto", path + ":" + strconv.Itoa(line)}
	case strings.Contains(editor, "less"):
		return []string{"+" + strconv.Itoa(line), path}
	default:
		return []string{path}
	}
}
