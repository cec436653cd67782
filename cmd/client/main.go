// Command jim-client is a terminal client for the JIM chat server.
//
// After a successful presence exchange it reads commands from stdin:
//
//	message <to> <text>   send a directed message
//	contacts              list own contacts
//	add <name>            add a contact
//	del <name>            remove a contact
//	users                 list all known users
//	exit                  log out and quit
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/dmavdeev/jimchat/internal/protocol"
)

func main() {
	port := pflag.IntP("port", "p", 7777, "server port")
	addr := pflag.StringP("addr", "a", "127.0.0.1", "server address")
	name := pflag.StringP("user", "u", "", "account name (required)")
	password := pflag.String("password", "", "account password")
	pflag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "missing account name (-u)")
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(*addr, strconv.Itoa(*port)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	w := protocol.NewWriter(conn)
	r := protocol.NewReader(conn)

	presence := protocol.Frame{
		protocol.KeyAction:   protocol.ActionPresence,
		protocol.KeyTime:     now(),
		protocol.KeyUser:     map[string]any{protocol.KeyAccountName: *name},
		protocol.KeyPassword: *password,
	}
	if err := w.WriteFrame(presence); err != nil {
		fmt.Fprintf(os.Stderr, "send presence: %v\n", err)
		os.Exit(1)
	}
	resp, err := r.ReadFrame()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read response: %v\n", err)
		os.Exit(1)
	}
	if resp.Response() != protocol.StatusOK {
		fmt.Fprintf(os.Stderr, "login rejected: %s\n", resp.String(protocol.KeyError))
		os.Exit(1)
	}
	fmt.Printf("logged in as %s\n", *name)

	go receive(r)

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "message":
			to, text, ok := strings.Cut(rest, " ")
			if !ok {
				fmt.Println("usage: message <to> <text>")
				continue
			}
			send(w, protocol.Frame{
				protocol.KeyAction:      protocol.ActionMessage,
				protocol.KeyTime:        now(),
				protocol.KeySender:      *name,
				protocol.KeyDestination: to,
				protocol.KeyMessageText: text,
			})
		case "contacts":
			send(w, protocol.Frame{
				protocol.KeyAction: protocol.ActionGetContacts,
				protocol.KeyUser:   *name,
			})
		case "add", "del":
			if rest == "" {
				fmt.Printf("usage: %s <name>\n", cmd)
				continue
			}
			action := protocol.ActionAddContact
			if cmd == "del" {
				action = protocol.ActionDelContact
			}
			send(w, protocol.Frame{
				protocol.KeyAction:      action,
				protocol.KeyUser:        *name,
				protocol.KeyAccountName: rest,
			})
		case "users":
			send(w, protocol.Frame{
				protocol.KeyAction:      protocol.ActionUsersRequest,
				protocol.KeyAccountName: *name,
			})
		case "exit":
			send(w, protocol.Frame{
				protocol.KeyAction:      protocol.ActionExit,
				protocol.KeyTime:        now(),
				protocol.KeyAccountName: *name,
			})
			return
		default:
			fmt.Println("commands: message, contacts, add, del, users, exit")
		}
	}
}

// receive prints incoming frames until the server hangs up.
func receive(r *protocol.Reader) {
	for {
		f, err := r.ReadFrame()
		if err != nil {
			fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
			os.Exit(1)
		}
		switch {
		case f.Action() == protocol.ActionMessage:
			fmt.Printf("%s: %s\n", f.String(protocol.KeySender), f.String(protocol.KeyMessageText))
		case f.Response() == protocol.StatusAccepted:
			fmt.Printf("%v\n", f[protocol.KeyListInfo])
		case f.Response() == protocol.StatusBadRequest:
			fmt.Printf("server refused: %s\n", f.String(protocol.KeyError))
		default:
			fmt.Println("ok")
		}
	}
}

func send(w *protocol.Writer, f protocol.Frame) {
	if err := w.WriteFrame(f); err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		os.Exit(1)
	}
}

// now is the JIM timestamp: seconds since the epoch as a float.
func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
