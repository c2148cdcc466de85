// Package subproc runs host subprocesses for tools, streaming combined
// output into the function call content line by line.
package subproc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

// ErrNotFound reports a missing executable.
var ErrNotFound = exec.ErrNotFound

// Run executes cmd in dir, appending every stdout and stderr line to
// fc.Content with a progress yield per line. Returns the exit code.
func Run(ctx context.Context, cmd []string, dir string, fc *chat.FunctionCall, yield chat.ProgressFunc) (int, error) {
	command := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	command.Dir = dir

	stdout, err := command.StdoutPipe()
	if err != nil {
		return -1, err
	}
	stderr, err := command.StderrPipe()
	if err != nil {
		return -1, err
	}

	if err := command.Start(); err != nil {
		return -1, err
	}

	lines := make(chan string)
	var readers sync.WaitGroup
	readLines := func(r io.Reader) {
		defer readers.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text() + "\n"
		}
	}
	readers.Add(2)
	go readLines(stdout)
	go readLines(stderr)
	go func() {
		readers.Wait()
		close(lines)
	}()

	for line := range lines {
		fc.Content += line
		yield("progress")
	}

	err = command.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}
