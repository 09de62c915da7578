// Command fakeserver stands in for the secure server in harness tests. It honours the
// server invocation contract: one positional port argument, listen on 127.0.0.1,
// exit cleanly on SIGTERM or SIGINT.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/securecomm/harness/termination"
)

type cli struct {
	Port        int           `arg:"" help:"Port to listen on."`
	Mode        string        `env:"FAKESERVER_MODE" default:"listen" enum:"listen,silent,stubborn,crash" help:"listen normally, never listen, ignore termination signals, or exit at once."`
	ListenDelay time.Duration `env:"FAKESERVER_LISTEN_DELAY" default:"0s" help:"Delay before listening."`
}

func main() {
	c := cli{}
	kong.Parse(&c)
	os.Exit(run(c))
}

func run(c cli) int {
	fmt.Printf("fake server pid=%d mode=%s\n", os.Getpid(), c.Mode)

	switch c.Mode {
	case "crash":
		fmt.Fprintln(os.Stderr, "fake server: crashing on purpose")
		return 3
	case "stubborn":
		signal.Ignore(os.Interrupt, syscall.SIGTERM)
		fmt.Println("fake server: ignoring termination signals")
		for {
			time.Sleep(time.Hour)
		}
	case "silent":
		_ = termination.Handle(context.Background())
		fmt.Println("fake server: terminated")
		return 0
	}

	time.Sleep(c.ListenDelay)
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", fmt.Sprint(c.Port)))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fake server:", err)
		return 1
	}
	fmt.Printf("Secure server started on port %d\n", c.Port)
	go serve(ln)

	_ = termination.Handle(context.Background())
	_ = ln.Close()
	fmt.Println("fake server: terminated")
	return 0
}

func serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			s := bufio.NewScanner(conn)
			for s.Scan() {
				_, _ = fmt.Fprintf(conn, "ack: %s\n", s.Text())
			}
		}()
	}
}
