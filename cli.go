package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// runREPL drives the line-oriented command surface: a long-lived stdin
// loop rather than a one-shot argv subcommand runner, since this node
// stays interactive for its whole lifetime.
func runREPL(ctx context.Context, n *Node) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("lsnpd ready. Type a command (whoami, peers, send, like, set_avatar, file, ttt, verbose) or 'quit'.")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		args := strings.Fields(line)
		cmd := args[0]

		if cmd == "quit" || cmd == "exit" {
			return
		}

		if err := dispatchCommand(n, cmd, args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func dispatchCommand(n *Node, cmd string, args []string) error {
	switch cmd {
	case "whoami":
		fmt.Println(n.WhoAmI())
		return nil
	case "peers":
		excludeSelf := len(args) > 0 && args[0] == "others"
		for _, p := range n.Peers(excludeSelf) {
			fmt.Printf("  %s (%s) last_seen=%s\n", p.UserID, p.DisplayName, p.LastSeen.Format("15:04:05"))
		}
		return nil
	case "send":
		return cmdSend(n, args)
	case "like":
		return cmdLike(n, args)
	case "set_avatar":
		if len(args) < 1 {
			return fmt.Errorf("usage: set_avatar <path>")
		}
		return n.SetAvatar(args[0])
	case "file":
		return cmdFile(n, args)
	case "ttt":
		return cmdTTT(n, args)
	case "group":
		return cmdGroup(n, args)
	case "verbose":
		if len(args) < 1 {
			return fmt.Errorf("usage: verbose on|off")
		}
		n.SetVerbose(args[0] == "on")
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdSend(n *Node, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: send post|dm|follow|unfollow|hello ...")
	}
	switch args[0] {
	case "post":
		if len(args) < 2 {
			return fmt.Errorf("usage: send post <content>")
		}
		return n.SendPost(strings.Join(args[1:], " "))
	case "dm":
		if len(args) < 3 {
			return fmt.Errorf("usage: send dm <peer> <content>")
		}
		return n.SendDM(args[1], strings.Join(args[2:], " "))
	case "follow":
		if len(args) < 2 {
			return fmt.Errorf("usage: send follow <peer>")
		}
		return n.Follow(args[1])
	case "unfollow":
		if len(args) < 2 {
			return fmt.Errorf("usage: send unfollow <peer>")
		}
		return n.Unfollow(args[1])
	case "hello":
		return n.Hello()
	default:
		return fmt.Errorf("unknown send subcommand %q", args[0])
	}
}

func cmdLike(n *Node, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: like <timestamp> [unlike]")
	}
	unlike := len(args) > 1 && args[1] == "unlike"
	return n.Like(args[0], unlike)
}

func cmdFile(n *Node, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: file send|accept|reject ...")
	}
	switch args[0] {
	case "send":
		if len(args) < 3 {
			return fmt.Errorf("usage: file send <peer> <path>")
		}
		return n.FileSend(args[1], args[2])
	case "accept":
		if len(args) < 2 {
			return fmt.Errorf("usage: file accept <file_id>")
		}
		return n.FileAccept(args[1])
	case "reject":
		if len(args) < 2 {
			return fmt.Errorf("usage: file reject <file_id>")
		}
		return n.FileReject(args[1])
	default:
		return fmt.Errorf("unknown file subcommand %q", args[0])
	}
}

func cmdTTT(n *Node, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ttt invite|move ...")
	}
	switch args[0] {
	case "invite":
		if len(args) < 2 {
			return fmt.Errorf("usage: ttt invite <peer> [game_id]")
		}
		gameID := ""
		if len(args) > 2 {
			gameID = args[2]
		}
		return n.TTTInvite(args[1], gameID)
	case "move":
		if len(args) < 3 {
			return fmt.Errorf("usage: ttt move <game_id> <position 0-8>")
		}
		pos, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("position must be an integer 0-8: %w", err)
		}
		return n.TTTMove(args[1], pos)
	default:
		return fmt.Errorf("unknown ttt subcommand %q", args[0])
	}
}

// cmdGroup gives groups a local origination path for create/update/message.
func cmdGroup(n *Node, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: group create|update|message ...")
	}
	switch args[0] {
	case "create":
		if len(args) < 3 {
			return fmt.Errorf("usage: group create <group_id> <name> [member...]")
		}
		return n.GroupCreate(args[1], args[2], args[3:])
	case "update":
		if len(args) < 2 {
			return fmt.Errorf("usage: group update <group_id> [+member ...] [-member ...]")
		}
		var add, remove []string
		for _, a := range args[2:] {
			switch {
			case strings.HasPrefix(a, "+"):
				add = append(add, strings.TrimPrefix(a, "+"))
			case strings.HasPrefix(a, "-"):
				remove = append(remove, strings.TrimPrefix(a, "-"))
			}
		}
		return n.GroupUpdate(args[1], add, remove)
	case "message":
		if len(args) < 3 {
			return fmt.Errorf("usage: group message <group_id> <content>")
		}
		return n.GroupMessage(args[1], strings.Join(args[2:], " "))
	default:
		return fmt.Errorf("unknown group subcommand %q", args[0])
	}
}
