package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/TomerKal7/Chat-Room-Project/internal/client"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:8080", "chat server address")
	username := flag.String("name", "", "username to log in with")
	password := flag.String("password", "", "login password")
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "a username is required: -name <username>")
		os.Exit(1)
	}

	cli, err := client.Dial(*serverAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer cli.Close()

	ui, err := NewChatUI(cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "terminal setup failed: %v\n", err)
		os.Exit(1)
	}
	defer ui.Close()

	if err := cli.Login(*username, *password); err != nil {
		ui.Close()
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}
	cli.StartKeepalive(10 * time.Second)

	if err := ui.Run(); err != nil {
		ui.Close()
		fmt.Fprintf(os.Stderr, "terminal error: %v\n", err)
		os.Exit(1)
	}

	_ = cli.Disconnect()
}
