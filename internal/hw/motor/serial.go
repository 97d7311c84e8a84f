package motor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/lumenfield/mirrorcal/internal/calib/grid"
	"github.com/lumenfield/mirrorcal/internal/debug"
)

// SerialPorter is the minimal interface needed for the serial transport.
// Satisfied by go.bug.st/serial.Port and by test fakes.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialClient is an Adapter speaking a line protocol to node-addressed
// motor controllers on a shared serial bus:
//
//	HOME <mac>\n
//	MOVE <mac> <index> <steps>\n
//
// The controller answers each command with "OK" or "ERR <message>".
type SerialClient struct {
	mu     sync.Mutex
	port   SerialPorter
	reader *bufio.Reader
}

// OpenSerial opens the serial port and wraps it in a client.
func OpenSerial(portName string, baudRate int) (*SerialClient, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(5 * time.Second); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return NewSerialClient(port), nil
}

// NewSerialClient wraps an already-open port. Exposed so tests can inject
// an in-memory SerialPorter.
func NewSerialClient(port SerialPorter) *SerialClient {
	return &SerialClient{port: port, reader: bufio.NewReader(port)}
}

func (c *SerialClient) HomeAll(ctx context.Context, macs []string) error {
	for _, mac := range macs {
		if err := c.roundTrip(ctx, fmt.Sprintf("HOME %s", mac)); err != nil {
			return err
		}
	}
	return nil
}

func (c *SerialClient) HomeTile(ctx context.Context, x, y *grid.Motor) error {
	for _, m := range []*grid.Motor{x, y} {
		if m == nil {
			continue
		}
		if err := c.roundTrip(ctx, fmt.Sprintf("HOME %s %d", m.NodeMac, m.MotorIndex)); err != nil {
			return err
		}
	}
	return nil
}

func (c *SerialClient) MoveMotor(ctx context.Context, mac string, motorIndex, positionSteps int) error {
	debug.Motor(mac, motorIndex, positionSteps)
	return c.roundTrip(ctx, fmt.Sprintf("MOVE %s %d %d", mac, motorIndex, positionSteps))
}

// Close closes the underlying port.
func (c *SerialClient) Close() error {
	return c.port.Close()
}

// roundTrip writes one command line and waits for its OK/ERR reply.
// The bus carries one command at a time.
func (c *SerialClient) roundTrip(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	debug.Trace("serial >> %s", command)
	if _, err := c.port.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("serial read: %w", err)
	}
	line = strings.TrimSpace(line)
	debug.Trace("serial << %s", line)

	switch {
	case line == "OK":
		return nil
	case strings.HasPrefix(line, "ERR"):
		return fmt.Errorf("controller error: %s", strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
	default:
		return fmt.Errorf("unexpected controller reply: %q", line)
	}
}
