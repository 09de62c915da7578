// Command fakeclient stands in for the interactive secure client in harness tests.
// It takes host and port, reads commands from stdin until quit or exit, and treats
// rotate as an in-band control command.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
)

type cli struct {
	Host string `arg:"" help:"Server address."`
	Port int    `arg:"" help:"Server port."`
	Mode string `env:"FAKECLIENT_MODE" default:"echo" enum:"echo,fail,hang" help:"echo commands, exit non-zero on quit, or never exit."`
	Dial bool   `env:"FAKECLIENT_DIAL" default:"true" help:"Connect to the server before reading commands."`
}

func main() {
	c := cli{}
	kong.Parse(&c)
	os.Exit(run(c))
}

func run(c cli) int {
	fmt.Printf("fake client pid=%d\n", os.Getpid())

	if c.Mode == "hang" {
		signal.Ignore(os.Interrupt, syscall.SIGTERM)
		for {
			time.Sleep(time.Hour)
		}
	}

	var conn net.Conn
	if c.Dial {
		var err error
		conn, err = net.DialTimeout("tcp", net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), 2*time.Second)
		if err != nil {
			fmt.Fprintln(os.Stderr, "fake client:", err)
			return 2
		}
		defer conn.Close()
		fmt.Printf("Connected to server %s:%d\n", c.Host, c.Port)
	}

	s := bufio.NewScanner(os.Stdin)
	for s.Scan() {
		line := s.Text()
		switch line {
		case "quit", "exit":
			if c.Mode == "fail" {
				fmt.Fprintln(os.Stderr, "fake client: failing on purpose")
				return 1
			}
			fmt.Println("bye")
			return 0
		case "rotate":
			fmt.Println("key rotated")
		default:
			fmt.Printf("sent: %s\n", line)
		}
		if conn != nil {
			_, _ = fmt.Fprintln(conn, line)
		}
	}
	fmt.Fprintln(os.Stderr, "fake client: input closed without quit")
	return 4
}
