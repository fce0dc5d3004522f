package audio

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// ExecSource captures audio by running an external recorder (arecord,
// parec, sox ...) that writes raw S16LE mono PCM to stdout. The tokens
// {rate} and {buffer} in the command line are substituted on Open.
type ExecSource struct {
	command string
}

func NewExecSource(command string) (*ExecSource, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &ExecSource{command: command}, nil
}

func (s *ExecSource) Name() string { return "exec" }

func (s *ExecSource) Available() error {
	args, err := s.args(Format{SampleRate: 16000, BufferFrames: 8000})
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return fmt.Errorf("%w: %s not found", ErrSourceUnavailable, args[0])
	}
	return nil
}

func (s *ExecSource) args(format Format) ([]string, error) {
	line := strings.NewReplacer(
		"{rate}", strconv.Itoa(format.SampleRate),
		"{buffer}", strconv.Itoa(format.BufferFrames),
	).Replace(s.command)

	parser := shellwords.NewParser()
	args, err := parser.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return args, nil
}

func (s *ExecSource) Open(format Format) (Stream, error) {
	args, err := s.args(format)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	stderr := &tailBuffer{max: stderrLimit}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}
	return &execStream{name: args[0], cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

const stderrLimit = 4 << 10

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append([]byte(nil), b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

type execStream struct {
	name   string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	frames int
	ended  bool

	waitOnce sync.Once
	waitErr  error
}

// Read fills buf with the next frame. A short final frame is zero-padded.
// When the recorder exits, a non-zero status or an exit before any audio
// is reported as an error carrying its stderr; a clean exit after audio is
// io.EOF.
func (s *execStream) Read(buf []byte) error {
	if s.ended {
		return s.finish()
	}
	n, err := io.ReadFull(s.stdout, buf)
	switch {
	case err == nil:
		s.frames++
		return nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		clear(buf[n:])
		s.frames++
		s.ended = true
		return nil
	case errors.Is(err, io.EOF):
		s.ended = true
		return s.finish()
	default:
		return fmt.Errorf("read %s: %w", s.name, err)
	}
}

func (s *execStream) finish() error {
	if err := s.wait(); err != nil {
		return s.exitError(err)
	}
	if s.frames == 0 {
		return s.exitError(errors.New("exited without producing audio"))
	}
	return io.EOF
}

func (s *execStream) exitError(err error) error {
	if detail := s.stderr.String(); detail != "" {
		return fmt.Errorf("%s exited: %v: %s", s.name, err, detail)
	}
	return fmt.Errorf("%s exited: %v", s.name, err)
}

// wait reaps the child once; all reads from stdout must be done.
func (s *execStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

func (s *execStream) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.stdout.Close()
	// A kill exit status is expected here.
	_ = s.wait()
	return nil
}
