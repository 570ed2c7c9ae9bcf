package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jroimartin/gocui"

	"github.com/TomerKal7/Chat-Room-Project/internal/client"
	"github.com/TomerKal7/Chat-Room-Project/internal/protocol"
)

// ChatUI is the terminal front end: a message pane, a status bar, and an
// input line, driven by slash commands.
type ChatUI struct {
	gui *gocui.Gui
	cli *client.Client

	msgView    string
	statusView string
	inputView  string
	helpView   string
	showHelp   bool

	sub         *client.Subscription
	currentRoom string
}

func NewChatUI(cli *client.Client) (*ChatUI, error) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, err
	}

	ui := &ChatUI{
		gui:        g,
		cli:        cli,
		msgView:    "messages",
		statusView: "status",
		inputView:  "input",
		helpView:   "help",
	}

	cli.OnPrivate(func(pm *protocol.PrivateMessage) {
		ui.appendMessage(fmt.Sprintf("[pm from %s] %s", pm.Sender, pm.Body))
	})
	cli.OnError(func(em *protocol.ErrorMessage) {
		ui.appendMessage(fmt.Sprintf("[server error %d] %s", em.ErrorCode, em.ErrorMsg))
	})

	g.SetManagerFunc(ui.layout)
	return ui, nil
}

func (ui *ChatUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	msgHeight := maxY - 5

	if v, err := g.SetView(ui.msgView, 0, 0, maxX-1, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Messages"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView(ui.statusView, 0, msgHeight+1, maxX-1, msgHeight+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		v.Wrap = true
		ui.refreshStatus()
	}

	if v, err := g.SetView(ui.inputView, 0, msgHeight+3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Input"
		v.Editable = true
		v.Wrap = true
		if _, err := g.SetCurrentView(ui.inputView); err != nil {
			return err
		}
	}

	if ui.showHelp {
		if v, err := g.SetView(ui.helpView, maxX/6, maxY/6, maxX*5/6, maxY*5/6); err != nil {
			if err != gocui.ErrUnknownView {
				return err
			}
			v.Title = "Help"
			fmt.Fprintln(v, `Commands:
/create <room> [password] [max]  - Create a room
/join <room> [password]          - Join a room
/leave                           - Leave the current room
/msg <user> <text>               - Send a private message
/rooms                           - List active rooms
/users [room-id]                 - List online users
/help                            - Toggle this help
/quit                            - Disconnect and exit

Anything else is sent to the current room.

Keybindings:
Ctrl-C  - Quit
Ctrl-H  - Toggle help
Enter   - Send`)
		}
	} else {
		_ = g.DeleteView(ui.helpView)
	}

	return nil
}

func (ui *ChatUI) appendMessage(line string) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(ui.msgView)
		if err != nil {
			return err
		}
		fmt.Fprintf(v, "%s %s\n", time.Now().Format("15:04:05"), line)
		return nil
	})
}

func (ui *ChatUI) refreshStatus() {
	room := ui.currentRoom
	if room == "" {
		room = "(none)"
	}
	status := fmt.Sprintf("Logged in as %s | Room: %s | Ctrl-H: Help", ui.cli.Username(), room)
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(ui.statusView)
		if err != nil {
			return err
		}
		v.Clear()
		fmt.Fprint(v, status)
		return nil
	})
}

func (ui *ChatUI) keybindings() error {
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			return gocui.ErrQuit
		}); err != nil {
		return err
	}

	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlH, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			ui.showHelp = !ui.showHelp
			return nil
		}); err != nil {
		return err
	}

	return ui.gui.SetKeybinding(ui.inputView, gocui.KeyEnter, gocui.ModNone, ui.handleInput)
}

func (ui *ChatUI) handleInput(_ *gocui.Gui, v *gocui.View) error {
	input := strings.TrimSpace(v.Buffer())
	v.Clear()
	if err := v.SetCursor(0, 0); err != nil {
		return err
	}
	if input == "" {
		return nil
	}

	if strings.HasPrefix(input, "/") {
		return ui.handleCommand(input)
	}

	if ui.currentRoom == "" {
		ui.appendMessage("[error] join a room first")
		return nil
	}
	if err := ui.cli.SendChat(input); err != nil {
		ui.appendMessage(fmt.Sprintf("[error] %v", err))
	}
	return nil
}

func (ui *ChatUI) handleCommand(input string) error {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/create":
		if len(args) < 1 {
			ui.appendMessage("[usage] /create <room> [password] [max]")
			return nil
		}
		password := ""
		maxUsers := 10
		if len(args) > 1 {
			password = args[1]
		}
		if len(args) > 2 {
			if n, err := strconv.Atoi(args[2]); err == nil {
				maxUsers = n
			}
		}
		go func() {
			info, err := ui.cli.CreateRoom(args[0], password, maxUsers)
			if err != nil {
				ui.appendMessage(fmt.Sprintf("[error] %v", err))
				return
			}
			ui.appendMessage(fmt.Sprintf("created room %q (id %d), /join to enter", info.Name, info.ID))
		}()

	case "/join":
		if len(args) < 1 {
			ui.appendMessage("[usage] /join <room> [password]")
			return nil
		}
		password := ""
		if len(args) > 1 {
			password = args[1]
		}
		go ui.joinRoom(args[0], password)

	case "/leave":
		go ui.leaveRoom()

	case "/msg":
		if len(args) < 2 {
			ui.appendMessage("[usage] /msg <user> <text>")
			return nil
		}
		body := strings.Join(args[1:], " ")
		go func() {
			if err := ui.cli.SendPrivate(args[0], body); err != nil {
				ui.appendMessage(fmt.Sprintf("[error] %v", err))
				return
			}
			ui.appendMessage(fmt.Sprintf("[pm to %s] %s", args[0], body))
		}()

	case "/rooms":
		go func() {
			rooms, err := ui.cli.RoomList()
			if err != nil {
				ui.appendMessage(fmt.Sprintf("[error] %v", err))
				return
			}
			if len(rooms) == 0 {
				ui.appendMessage("no active rooms")
				return
			}
			for _, r := range rooms {
				locked := ""
				if r.HasPassword {
					locked = " [locked]"
				}
				ui.appendMessage(fmt.Sprintf("room %d: %s (%d users)%s", r.RoomID, r.Name, r.UserCount, locked))
			}
		}()

	case "/users":
		var roomID uint16
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				roomID = uint16(n)
			}
		}
		go func() {
			users, err := ui.cli.UserList(roomID)
			if err != nil {
				ui.appendMessage(fmt.Sprintf("[error] %v", err))
				return
			}
			ui.appendMessage("online: " + strings.Join(users, ", "))
		}()

	case "/help":
		ui.showHelp = !ui.showHelp

	case "/quit":
		return gocui.ErrQuit

	default:
		ui.appendMessage(fmt.Sprintf("[error] unknown command %s", cmd))
	}

	return nil
}

// joinRoom joins the control-channel side, then subscribes to the room's
// multicast group and pumps its traffic into the message pane.
func (ui *ChatUI) joinRoom(name, password string) {
	info, err := ui.cli.JoinRoom(name, password)
	if err != nil {
		ui.appendMessage(fmt.Sprintf("[error] %v", err))
		return
	}

	sub, err := client.Subscribe(info)
	if err != nil {
		ui.appendMessage(fmt.Sprintf("[error] joined but cannot subscribe: %v", err))
		_ = ui.cli.LeaveRoom()
		return
	}

	ui.sub = sub
	ui.currentRoom = info.Name
	ui.appendMessage(fmt.Sprintf("joined %q on %s:%d", info.Name, info.MulticastAddr, info.MulticastPort))
	ui.refreshStatus()

	go func() {
		for {
			select {
			case msg, ok := <-sub.Chat:
				if !ok {
					return
				}
				if msg.Sender == ui.cli.Username() {
					continue
				}
				ui.appendMessage(fmt.Sprintf("<%s> %s", msg.Sender, msg.Body))
			case note, ok := <-sub.Notes:
				if !ok {
					return
				}
				verb := "left"
				if note.Joined {
					verb = "joined"
				}
				ui.appendMessage(fmt.Sprintf("* %s %s the room", note.Username, verb))
			}
		}
	}()
}

func (ui *ChatUI) leaveRoom() {
	if ui.currentRoom == "" {
		ui.appendMessage("[error] not in a room")
		return
	}
	if ui.sub != nil {
		_ = ui.sub.Close()
		ui.sub = nil
	}
	if err := ui.cli.LeaveRoom(); err != nil {
		ui.appendMessage(fmt.Sprintf("[error] %v", err))
		return
	}
	ui.appendMessage(fmt.Sprintf("left %q", ui.currentRoom))
	ui.currentRoom = ""
	ui.refreshStatus()
}

func (ui *ChatUI) Run() error {
	if err := ui.keybindings(); err != nil {
		return err
	}
	if err := ui.gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func (ui *ChatUI) Close() {
	if ui.sub != nil {
		_ = ui.sub.Close()
	}
	ui.gui.Close()
}
