package sandbox

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog/log"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

// execTimeout is the rolling inactivity budget of one sandbox command.
// The first expiry emits a timeout event and extends the budget once;
// the second tears the execution down.
const execTimeout = 120 * time.Second

// Sandbox is one conversation's container. Implements chat.Sandbox.
type Sandbox struct {
	cli         *client.Client
	name        string
	path        string
	containerID string
}

func (sb *Sandbox) Path() string { return sb.path }

// Execute runs one command in the sandbox container and streams its
// output line by line, terminated by a return_code event.
func (sb *Sandbox) Execute(ctx context.Context, cmd []string, stdin string) (<-chan chat.ExecEvent, error) {
	log.Info().Str("sandbox", sb.name).Str("cmd", truncate(strings.Join(cmd, " "), 128)).Msg("Executing command in sandbox")

	created, err := sb.cli.ContainerExecCreate(ctx, sb.containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdin:  stdin != "",
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, err
	}

	attached, err := sb.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, err
	}

	if stdin != "" {
		go func() {
			_, _ = io.WriteString(attached.Conn, stdin)
			_ = attached.CloseWrite()
		}()
	}

	raw := make(chan chat.ExecEvent)
	out := make(chan chat.ExecEvent)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	go func() {
		_, err := stdcopy.StdCopy(stdoutW, stderrW, attached.Reader)
		stdoutW.CloseWithError(err)
		stderrW.CloseWithError(err)
	}()

	var readers sync.WaitGroup
	readLines := func(r io.Reader, stream chat.ExecStream) {
		defer readers.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			raw <- chat.ExecEvent{Stream: stream, Text: scanner.Text() + "\n"}
		}
	}
	readers.Add(2)
	go readLines(stdoutR, chat.ExecStdout)
	go readLines(stderrR, chat.ExecStderr)

	go func() {
		readers.Wait()
		close(raw)
	}()

	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { attached.Close() }) }
	exitCode := func() int {
		code := -1
		if inspect, err := sb.cli.ContainerExecInspect(context.WithoutCancel(ctx), created.ID); err == nil {
			code = inspect.ExitCode
		}
		return code
	}
	go sb.streamEvents(ctx, raw, out, execTimeout, stop, exitCode)

	return out, nil
}

// streamEvents forwards raw execution events to out under the
// inactivity deadline, then terminates the stream with the exit code.
// On teardown it cuts the attach via stop and drains the tail of raw,
// so a line reader blocked on a send can always finish and close it.
func (sb *Sandbox) streamEvents(ctx context.Context, raw <-chan chat.ExecEvent, out chan<- chat.ExecEvent, timeout time.Duration, stop func(), exitCode func() int) {
	defer close(out)
	defer stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	timedOut := false

loop:
	for {
		select {
		case event, ok := <-raw:
			if !ok {
				break loop
			}
			out <- event
		case <-deadline.C:
			log.Warn().Str("sandbox", sb.name).Msg("Sandbox execution timed out")
			if timedOut {
				// Second miss; cut the attach, the readers drain out.
				stop()
				break loop
			}
			timedOut = true
			out <- chat.ExecEvent{Stream: chat.ExecTimeout}
			deadline.Reset(timeout)
		case <-ctx.Done():
			stop()
			break loop
		}
	}

	for range raw {
	}

	out <- chat.ExecEvent{Stream: chat.ExecReturnCode, Code: exitCode()}
}

// Close destroys the container and the sandbox directory.
func (sb *Sandbox) Close(ctx context.Context) error {
	err := sb.cli.ContainerRemove(ctx, sb.containerID, container.RemoveOptions{Force: true})
	if removeErr := os.RemoveAll(sb.path); removeErr != nil && err == nil {
		err = removeErr
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
