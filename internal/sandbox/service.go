// Package sandbox manages per-conversation Docker sandboxes. Each
// conversation gets one long-lived container with a private directory
// bind-mounted at /sandbox; tools execute commands in it.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"
	"github.com/rs/zerolog/log"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

const sandboxImage = "alpine:latest"

// sandboxUser is a high UID outside any host user range.
const sandboxUser = "1000000:1000000"

// Service creates and tracks sandboxes under a root directory.
type Service struct {
	cli  *client.Client
	root string

	mu        sync.Mutex
	sandboxes map[string]*Sandbox
}

func NewService(root string) (*Service, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}

	return &Service{
		cli:       cli,
		root:      root,
		sandboxes: make(map[string]*Sandbox),
	}, nil
}

// InitSandbox attaches a sandbox to the conversation, creating the
// container on first call. Idempotent; concurrent tool initializers of
// the same conversation end up sharing the one sandbox.
func (s *Service) InitSandbox(ctx context.Context, conv *chat.Conversation) error {
	return conv.AttachSandbox(ctx, func(ctx context.Context) (chat.Sandbox, error) {
		sb, err := s.create(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		return sb, nil
	})
}

func (s *Service) create(ctx context.Context, conversationID string) (*Sandbox, error) {
	path, err := os.MkdirTemp(s.root, "sandbox-")
	if err != nil {
		return nil, fmt.Errorf("sandbox dir: %w", err)
	}
	name := filepath.Base(path)

	if err := s.ensureImage(ctx, sandboxImage); err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("sandbox image: %w", err)
	}

	created, err := s.cli.ContainerCreate(ctx,
		&container.Config{
			Image: sandboxImage,
			// cat on stdin keeps the container alive until we close it.
			Cmd:       []string{"/bin/cat", "-"},
			OpenStdin: true,
			User:      sandboxUser,
		},
		&container.HostConfig{
			Mounts: []mount.Mount{
				{
					Type:   mount.TypeBind,
					Source: path,
					Target: "/sandbox",
				},
			},
			Resources: container.Resources{
				Ulimits: []*units.Ulimit{
					{Name: "nofile", Soft: 1024, Hard: 1024},
				},
			},
			AutoRemove: true,
		},
		nil, nil, name)
	if err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("sandbox container: %w", err)
	}

	if err := s.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("sandbox start: %w", err)
	}

	sb := &Sandbox{
		cli:         s.cli,
		name:        name,
		path:        path,
		containerID: created.ID,
	}

	s.mu.Lock()
	s.sandboxes[name] = sb
	s.mu.Unlock()

	log.Info().Str("sandbox", name).Str("conversation_id", conversationID).Msg("Sandbox created")
	return sb, nil
}

// Close destroys every live sandbox. Used at service shutdown.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	sandboxes := make([]*Sandbox, 0, len(s.sandboxes))
	for _, sb := range s.sandboxes {
		sandboxes = append(sandboxes, sb)
	}
	s.sandboxes = make(map[string]*Sandbox)
	s.mu.Unlock()

	var firstErr error
	for _, sb := range sandboxes {
		if err := sb.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Service) ensureImage(ctx context.Context, imageName string) error {
	if _, _, err := s.cli.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}

	reader, err := s.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}
