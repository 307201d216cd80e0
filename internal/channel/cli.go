package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mathbot/internal/domain"
)

// CLI implements domain.Channel for interactive terminal chat. Every line
// typed is addressed to the bot.
type CLI struct {
	bus       domain.MessageBus
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	spinner   bool
	outMu     sync.Mutex
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	seq       int
}

type CLIConfig struct {
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	Spinner bool // animate a "Thinking..." line while waiting for a reply
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until EOF, /quit or ctx is done.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	c.printf("mathbot CLI. Ask a math question and press Enter. Type /quit to exit.\nYou> ")

	lines := make(chan string)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			c.stopThinking()
			return nil
		case err := <-errCh:
			c.stopThinking()
			return err // nil on EOF
		case raw := <-lines:
			line := strings.TrimSpace(raw)
			if line == "" {
				c.printf("You> ")
				continue
			}
			if line == "/quit" || line == "/exit" || line == "/q" {
				c.logger.Info("user requested quit")
				c.stopThinking()
				return nil
			}

			c.seq++
			c.startThinking()
			c.bus.Publish(domain.IncomingEvent{
				ID:        uuid.NewString(),
				Platform:  c.Name(),
				ChannelID: "local",
				MessageID: strconv.Itoa(c.seq),
				AuthorID:  "user",
				RawText:   line,
				Timestamp: time.Now(),
				Direct:    true,
			})
		}
	}
}

// Send prints the reply. Attachments are noted by name only.
func (c *CLI) Send(ctx context.Context, reply domain.OutgoingReply) error {
	c.stopThinking()
	var b strings.Builder
	if c.spinner {
		b.WriteString("\r\033[K")
	}
	b.WriteString("--- mathbot ---\n")
	b.WriteString(reply.Text)
	b.WriteString("\n")
	if a := reply.Attachment; a != nil {
		fmt.Fprintf(&b, "[attachment: %s, %d bytes]\n", a.Filename, len(a.Data))
	}
	b.WriteString("---------------\nYou> ")
	return c.printf("%s", b.String())
}

func (c *CLI) printf(format string, args ...any) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = c.printf("\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}
